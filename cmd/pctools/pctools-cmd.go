package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"os"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/rimage"

	"github.com/erh/turntablescan"
	"github.com/erh/turntablescan/calibration"
	"github.com/erh/turntablescan/frames"
	"github.com/erh/turntablescan/geom"
	"github.com/erh/turntablescan/pipeline"
	"github.com/erh/turntablescan/scan"
)

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

func realMain() error {
	logger := logging.NewLogger("pctools")
	ctx := context.Background()

	host := flag.String("host", "", "hostname")
	cmd := flag.String("cmd", "", "command")
	cameraName := flag.String("camera", "", "camera to use")
	out := flag.String("out", "", "output file")
	in := flag.String("in", "", "input file")

	configFile := flag.String("config", "", "turntable-scan camera attributes as json")
	framesDir := flag.String("frames", "", "recording directory")
	calibrationFile := flag.String("calibration", "", "calibration json")
	stride := flag.Int("stride", 0, "frames to advance per used frame")
	diagDir := flag.String("diag", "", "write diagnostics here")
	seed := flag.Int64("seed", 0, "sampler seed")
	partID := flag.String("part", "", "machine part id")
	pixelsPerMeter := flag.Float64("pixels-per-meter", 500, "")

	flag.Parse()

	if *cmd == "" {
		return fmt.Errorf("need a cmd")
	}

	if *cmd == "reconstruct" {
		if *out == "" {
			return fmt.Errorf("need an 'out'")
		}

		cfg, err := readScanConfig(*configFile, *framesDir, *calibrationFile)
		if err != nil {
			return err
		}
		if *stride > 0 {
			cfg.Pipeline.Stride = *stride
		}
		if *diagDir != "" {
			cfg.Pipeline.DiagnosticsDir = *diagDir
		}
		if *seed != 0 {
			cfg.Pipeline.Seed = *seed
		}

		cal, err := cfg.LoadCalibration()
		if err != nil {
			return err
		}
		src, err := frames.OpenDir(cfg.FramesDir)
		if err != nil {
			return err
		}
		mapper, err := cfg.Mapper()
		if err != nil {
			return err
		}

		pc, err := pipeline.Reconstruct(ctx, src, cal, mapper, cfg.Pipeline, func(i, n int) {
			if i%100 == 0 {
				logger.Infof("frame %d / %d", i, n)
			}
		}, logger)
		if err != nil {
			return err
		}

		rpc, err := pc.ToRDK(1000)
		if err != nil {
			return err
		}
		logger.Infof("writing %d points to %s", rpc.Size(), *out)
		return writePCToFile(*out, rpc)
	}

	if *cmd == "init-calibration" {
		if *out == "" {
			return fmt.Errorf("need an 'out'")
		}
		intrinsics := frames.KinectProperties.IntrinsicParams
		cal := &calibration.Calibration{
			Markers:         calibration.DefaultMarkers(),
			SearchRect:      image.Rect(0, 0, intrinsics.Width, intrinsics.Height),
			TurntableRadius: 0.15,
		}
		return cal.Save(*out)
	}

	if *cmd == "push-calibration" {
		cal, err := calibration.Load(*calibrationFile)
		if err != nil {
			return err
		}
		if *cameraName == "" {
			return fmt.Errorf("need a camera")
		}
		return turntablescan.PushCalibrationFromEnv(ctx, *partID, camera.Named(*cameraName), cal, logger)
	}

	if *cmd == "download" {
		if *out == "" {
			return fmt.Errorf("need an 'out'")
		}

		machine, err := turntablescan.ConnectToHostFromCLIToken(ctx, *host, logger)
		if err != nil {
			return err
		}
		defer machine.Close(ctx)

		myCamera, err := camera.FromRobot(machine, *cameraName)
		if err != nil {
			return err
		}

		pc, err := myCamera.NextPointCloud(ctx, nil)
		if err != nil {
			return err
		}

		return writePCToFile(*out, pc)
	}

	if *cmd == "size" {
		in, err := pointcloud.NewFromFile(*in, "")
		if err != nil {
			return err
		}
		logger.Infof("size: %d", in.Size())
		return nil
	}

	if *cmd == "image" {
		in, err := pointcloud.NewFromFile(*in, "")
		if err != nil {
			return err
		}
		img := geom.PCToImage(geom.FromRDK(in, 1000), *pixelsPerMeter)
		if *out == "" {
			return fmt.Errorf("need an out")
		}

		return rimage.WriteImageToFile(*out, img)
	}

	return fmt.Errorf("invalid command [%s]", *cmd)
}

// readScanConfig reads camera attributes from fn, if given, and lets the flags fill in.
func readScanConfig(fn, framesDir, calibrationFile string) (*scan.Config, error) {
	cfg := &scan.Config{}
	if fn != "" {
		data, err := os.ReadFile(fn)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse %s: %w", fn, err)
		}
	}
	if framesDir != "" {
		cfg.FramesDir = framesDir
	}
	if calibrationFile != "" {
		cfg.Calibration = nil
		cfg.CalibrationFile = calibrationFile
	}
	if _, _, err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writePCToFile(fn string, pc pointcloud.PointCloud) error {
	f, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return pointcloud.ToPCD(pc, f, pointcloud.PCDBinary)
}
