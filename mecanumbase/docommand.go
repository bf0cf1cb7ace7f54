package mecanumbase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"mecanum/drivetrain"
)

const (
	cmdDriveToPosition = "drive_to_position"
	cmdTurn            = "turn"
	cmdPositions       = "positions"
	cmdEncoderInit     = "encoder_init"
	cmdGetTelemetry    = "get_telemetry"
	cmdResetErrors     = "reset_errors"
)

// DoCommand executes additional commands beyond the Base{} interface. For this
// base that is direct access to the drivetrain loops and telemetry.
func (b *mecanumBase) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, ok := cmd["command"]
	if !ok {
		return nil, errors.New("missing 'command' value")
	}
	switch name {
	case cmdDriveToPosition:
		return b.doDriveToPosition(ctx, cmd)
	case cmdTurn:
		return b.doTurn(ctx, cmd)
	case cmdPositions:
		pos, err := b.dt.Positions()
		if err != nil {
			return nil, err
		}
		return positionsMap(pos), nil
	case cmdEncoderInit:
		if err := b.dt.EncoderInit(); err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": "encoder_init command processed"}, nil
	case cmdGetTelemetry:
		return b.telemetrySnapshot()
	case cmdResetErrors:
		if b.bus == nil {
			return nil, errors.New("reset_errors needs CAN wheels")
		}
		if err := b.bus.ResetErrors(); err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": "reset_errors command processed"}, nil
	default:
		return nil, fmt.Errorf("no such command: %s", name)
	}
}

func (b *mecanumBase) doDriveToPosition(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	left, err := floatArg(cmd, "left_in", 0, true)
	if err != nil {
		return nil, err
	}
	right, err := floatArg(cmd, "right_in", left, false)
	if err != nil {
		return nil, err
	}
	speed, err := floatArg(cmd, "speed", drivetrain.DriveSpeed, false)
	if err != nil {
		return nil, err
	}
	timeout, err := timeoutArg(cmd, b.conf.driveTimeout())
	if err != nil {
		return nil, err
	}

	ctx, done := b.opMgr.New(ctx)
	defer done()
	if err := b.waitIdle(ctx); err != nil {
		return nil, err
	}
	b.openLoop.Store(false)

	res, err := b.dt.DriveToPosition(ctx, speed, left, right, timeout)
	if err != nil {
		return nil, err
	}
	targets := make([]interface{}, len(res.Targets))
	for i, t := range res.Targets {
		targets[i] = t
	}
	return map[string]interface{}{
		"reason":      res.Reason.String(),
		"elapsed_sec": res.Elapsed.Seconds(),
		"iterations":  res.Iterations,
		"targets":     targets,
	}, nil
}

func (b *mecanumBase) doTurn(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	angle, err := floatArg(cmd, "angle_deg", 0, true)
	if err != nil {
		return nil, err
	}
	speed, err := floatArg(cmd, "speed", drivetrain.TurnSpeed, false)
	if err != nil {
		return nil, err
	}
	timeout, err := timeoutArg(cmd, b.conf.turnTimeout())
	if err != nil {
		return nil, err
	}

	ctx, done := b.opMgr.New(ctx)
	defer done()
	if err := b.waitIdle(ctx); err != nil {
		return nil, err
	}
	b.openLoop.Store(false)

	res, err := b.dt.TurnToHeading(ctx, speed, angle, timeout)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"reason":         res.Reason.String(),
		"elapsed_sec":    res.Elapsed.Seconds(),
		"iterations":     res.Iterations,
		"target_heading": res.TargetHeading,
		"final_heading":  res.FinalHeading,
	}, nil
}

func (b *mecanumBase) telemetrySnapshot() (map[string]interface{}, error) {
	out := map[string]interface{}{
		"is_moving": b.dt.IsMoving() || b.openLoop.Load(),
	}
	pos, err := b.dt.Positions()
	if err != nil {
		return nil, err
	}
	out["positions_in"] = positionsMap(pos)

	if p, ok := b.last.get(); ok {
		last := map[string]interface{}{
			"phase":       string(p.Phase),
			"iteration":   p.Iteration,
			"elapsed_sec": p.Elapsed.Seconds(),
		}
		for _, line := range p.Lines() {
			last[line[0]] = line[1]
		}
		out["last_progress"] = last
	}

	if b.bus != nil {
		if soc := b.bus.StateOfCharge(); !math.IsNaN(soc) {
			out["state_of_charge"] = soc
		}
		rpm := b.bus.WheelRPM()
		out["wheel_rpm"] = map[string]interface{}{
			"left_front":  rpm[0],
			"left_back":   rpm[1],
			"right_front": rpm[2],
			"right_back":  rpm[3],
		}
	}
	if b.robot != nil {
		pose := b.robot.Pose()
		out["sim_pose"] = map[string]interface{}{
			"x_in":    pose.X,
			"y_in":    pose.Y,
			"yaw_deg": pose.YawDegrees,
		}
	}
	return out, nil
}

func positionsMap(pos drivetrain.WheelPositions) map[string]interface{} {
	return map[string]interface{}{
		"left_front":  pos.LeftFront,
		"right_front": pos.RightFront,
		"left_back":   pos.LeftBack,
		"right_back":  pos.RightBack,
	}
}

// floatArg reads a number from a command. JSON numbers arrive as float64.
func floatArg(cmd map[string]interface{}, key string, def float64, required bool) (float64, error) {
	raw, ok := cmd[key]
	if !ok {
		if required {
			return 0, errors.Errorf("%s must be set to a number", key)
		}
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, errors.Errorf("%s value must be a number but is type %T", key, raw)
	}
}

// timeoutArg reads timeout_sec from a command or extra map.
func timeoutArg(args map[string]interface{}, def time.Duration) (time.Duration, error) {
	sec, err := floatArg(args, "timeout_sec", def.Seconds(), false)
	if err != nil {
		return 0, err
	}
	if sec <= 0 {
		return 0, drivetrain.ErrInvalidTimeout
	}
	return time.Duration(sec * float64(time.Second)), nil
}
