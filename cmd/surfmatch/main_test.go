package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/Dzusmin/surfmatch/internal/accel"
	"github.com/Dzusmin/surfmatch/internal/config"
)

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	test.That(t, os.WriteFile(path, []byte("path: accelerated\nscale: 0.5\n"), 0o600), test.ShouldBeNil)

	cfg, err := loadConfig(flags{config: path})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Path, test.ShouldEqual, string(accel.Accelerated))
	test.That(t, cfg.Scale, test.ShouldEqual, 0.5)

	cfg, err = loadConfig(flags{config: path, path: "standard", scale: 2, modelROI: "0,0,10,10", debug: true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Path, test.ShouldEqual, "standard")
	test.That(t, cfg.Scale, test.ShouldEqual, 2)
	test.That(t, cfg.ModelROI, test.ShouldEqual, "0,0,10,10")
	test.That(t, cfg.LogLevel, test.ShouldEqual, "debug")

	_, err = loadConfig(flags{path: "gpu"})
	test.That(t, errors.Is(err, config.ErrInvalid), test.ShouldBeTrue)
}

func TestRunArguments(t *testing.T) {
	test.That(t, run([]string{"only-one.png"}), test.ShouldBeError)
	test.That(t, run([]string{"a.png", "b.png", "c.png", "d.png"}), test.ShouldBeError)
	test.That(t, run([]string{"-nope"}), test.ShouldBeError)

	dir := t.TempDir()
	err := run([]string{filepath.Join(dir, "missing.png"), filepath.Join(dir, "missing2.png")})
	test.That(t, err, test.ShouldBeError)
}
