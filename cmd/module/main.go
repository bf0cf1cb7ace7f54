// Package main runs the mecanum drivetrain as a viam module.
package main

import (
	"context"

	goutils "go.viam.com/utils"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"

	"mecanum/mecanumbase"
)

func main() {
	goutils.ContextualMain(mainWithArgs, logging.NewDebugLogger("mecanumBaseModule"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	mecanumModule, err := module.NewModuleFromArgs(ctx, logger)
	if err != nil {
		return err
	}
	if err := mecanumModule.AddModelFromRegistry(ctx, base.API, mecanumbase.Model); err != nil {
		return err
	}

	err = mecanumModule.Start(ctx)
	defer mecanumModule.Close(ctx)

	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
