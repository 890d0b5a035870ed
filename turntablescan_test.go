package turntablescan

import (
	"image"
	"testing"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/test"

	"github.com/erh/turntablescan/calibration"
	"github.com/erh/turntablescan/geom"
)

func TestSetComponentAttribute(t *testing.T) {
	cfg := map[string]interface{}{
		"components": []interface{}{
			map[string]interface{}{"name": "other", "attributes": map[string]interface{}{"x": 1}},
			map[string]interface{}{
				"name": "scan",
				"attributes": map[string]interface{}{
					"frames_dir":       "/data/rec1",
					"calibration_file": "/data/cal.json",
				},
			},
		},
	}

	err := setComponentAttribute(cfg, camera.Named("scan"), CalibrationAttribute, map[string]interface{}{"tilt": 0.1})
	test.That(t, err, test.ShouldBeNil)

	cs := cfg["components"].([]interface{})
	attrs := cs[1].(map[string]interface{})["attributes"].(map[string]interface{})
	test.That(t, attrs["frames_dir"], test.ShouldEqual, "/data/rec1")
	test.That(t, attrs[CalibrationAttribute], test.ShouldResemble, map[string]interface{}{"tilt": 0.1})
	_, hasFile := attrs["calibration_file"]
	test.That(t, hasFile, test.ShouldBeFalse)

	other := cs[0].(map[string]interface{})["attributes"].(map[string]interface{})
	test.That(t, other, test.ShouldResemble, map[string]interface{}{"x": 1})

	// no attributes yet
	cfg = map[string]interface{}{"components": []interface{}{map[string]interface{}{"name": "scan"}}}
	err = setComponentAttribute(cfg, camera.Named("scan"), CalibrationAttribute, 5)
	test.That(t, err, test.ShouldBeNil)

	err = setComponentAttribute(cfg, camera.Named("missing"), CalibrationAttribute, 5)
	test.That(t, err, test.ShouldNotBeNil)

	err = setComponentAttribute(map[string]interface{}{}, camera.Named("scan"), CalibrationAttribute, 5)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCalibrationAttribute(t *testing.T) {
	_, err := calibrationAttribute(nil)
	test.That(t, err, test.ShouldNotBeNil)

	cal := &calibration.Calibration{
		CameraOrigin:    geom.NewPoint(0, -0.1, 0.5),
		Tilt:            0.25,
		Markers:         calibration.DefaultMarkers(),
		SearchRect:      image.Rect(10, 20, 30, 40),
		TurntableRadius: 0.13,
	}
	attr, err := calibrationAttribute(cal)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, attr["tilt"], test.ShouldEqual, 0.25)
	test.That(t, attr["turntable_radius"], test.ShouldEqual, 0.13)
	test.That(t, len(attr["markers"].([]interface{})), test.ShouldEqual, 4)
}
