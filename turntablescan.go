// Package turntablescan reconstructs 3D models of objects spun on a marked turntable.
package turntablescan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.viam.com/rdk/app"
	"go.viam.com/rdk/cli"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/robot"
	"go.viam.com/rdk/robot/client"
	"go.viam.com/rdk/utils"

	"github.com/erh/turntablescan/calibration"
)

var NamespaceFamily = resource.NewModelFamily("erh", "turntablescan")

// CalibrationAttribute is where a turntable-scan camera keeps its inline calibration.
const CalibrationAttribute = "calibration"

// ConnectToHostFromCLIToken uses the viam cli token to login to a machine with just a hostname.
// use "viam login" to setup the token.
func ConnectToHostFromCLIToken(ctx context.Context, host string, logger logging.Logger) (robot.Robot, error) {
	if host == "" {
		return nil, fmt.Errorf("need to specify host")
	}

	c, err := cli.ConfigFromCache(nil)
	if err != nil {
		return nil, err
	}

	dopts, err := c.DialOptions()
	if err != nil {
		return nil, err
	}

	return client.New(ctx, host, logger, client.WithDialOptions(dopts...))
}

// PushCalibrationFromEnv writes cal into the named component of machine part id, using app
// credentials from the environment. An empty id means the part the module is running on.
func PushCalibrationFromEnv(ctx context.Context, id string, name resource.Name, cal *calibration.Calibration, logger logging.Logger) error {
	if id == "" {
		id = os.Getenv(utils.MachinePartIDEnvVar)
	}
	if id == "" {
		return fmt.Errorf("need a part id, and no %s in env", utils.MachinePartIDEnvVar)
	}

	c, err := app.CreateViamClientFromEnvVars(ctx, nil, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	return PushCalibration(ctx, c.AppClient(), id, name, cal)
}

// PushCalibration sets the calibration attribute of the named component on part id, leaving
// its other attributes alone.
func PushCalibration(ctx context.Context, c *app.AppClient, id string, name resource.Name, cal *calibration.Calibration) error {
	attr, err := calibrationAttribute(cal)
	if err != nil {
		return err
	}

	part, _, err := c.GetRobotPart(ctx, id)
	if err != nil {
		return err
	}

	if err := setComponentAttribute(part.RobotConfig, name, CalibrationAttribute, attr); err != nil {
		return err
	}

	_, err = c.UpdateRobotPart(ctx, id, part.Name, part.RobotConfig)
	return err
}

// calibrationAttribute renders cal the way it appears in a machine config.
func calibrationAttribute(cal *calibration.Calibration) (map[string]interface{}, error) {
	if cal == nil {
		return nil, fmt.Errorf("no calibration to push")
	}
	b, err := json.Marshal(cal)
	if err != nil {
		return nil, err
	}
	attr := map[string]interface{}{}
	if err := json.Unmarshal(b, &attr); err != nil {
		return nil, err
	}
	return attr, nil
}

func setComponentAttribute(robotConfig map[string]interface{}, name resource.Name, key string, value interface{}) error {
	cs, ok := robotConfig["components"].([]interface{})
	if !ok {
		return fmt.Errorf("machine has no components")
	}

	found := false
	for idx, cc := range cs {
		ccc, ok := cc.(map[string]interface{})
		if !ok {
			return fmt.Errorf("config bad %d: %T", idx, cc)
		}
		if ccc["name"] != name.ShortName() {
			continue
		}

		attrs, ok := ccc["attributes"].(map[string]interface{})
		if !ok {
			attrs = map[string]interface{}{}
		}
		attrs[key] = value
		// an inline calibration replaces a file reference
		delete(attrs, "calibration_file")
		ccc["attributes"] = attrs
		found = true
	}

	if !found {
		return fmt.Errorf("didn't find component with name %v", name.ShortName())
	}
	return nil
}
