//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const shaderDir = "assets/shaders"

// Tidies the module and builds every engine package.
func (Build) Engine() error {
	if err := goModTidy(); err != nil {
		return err
	}
	fmt.Println("Building engine...")
	_, err := executeCmd("go", withArgs("build", "./engine/..."), withStream())
	return err
}

// Builds the testbed binary into bin/.
func (Build) Testbed() error {
	mg.Deps(Shaders)
	fmt.Println("Building testbed...")
	_, err := executeCmd("go", withArgs("build", "-o", filepath.Join("bin", "ember"), "."), withStream())
	return err
}

// Compiles assets/shaders/*.glsl and *.hlsl to SPIR-V next to the sources.
func Shaders() error {
	var sources []string
	for _, pattern := range []string{"*.glsl", "*.hlsl"} {
		matches, err := filepath.Glob(filepath.Join(shaderDir, pattern))
		if err != nil {
			return err
		}
		sources = append(sources, matches...)
	}
	if len(sources) == 0 {
		fmt.Printf("no shader sources in %s\n", shaderDir)
		return nil
	}
	for _, src := range sources {
		out := strings.TrimSuffix(src, filepath.Ext(src)) + ".spv"
		if upToDate(src, out) {
			continue
		}
		stage, err := shaderStage(src)
		if err != nil {
			return err
		}
		args := []string{"-fshader-stage=" + stage, filepath.Base(src), "-o", filepath.Base(out)}
		if filepath.Ext(src) == ".hlsl" {
			args = append([]string{"-x", "hlsl"}, args...)
		}
		if _, err := executeCmd("glslc", withArgs(args...), withDir(shaderDir), withStream()); err != nil {
			return err
		}
	}
	return nil
}

// Runs the tests of every package.
func Test() error {
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}

// shaderStage reads the stage from the file name suffix, e.g. ParticleSimulate_CS.glsl.
func shaderStage(path string) (string, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch {
	case strings.HasSuffix(name, "_VS"):
		return "vertex", nil
	case strings.HasSuffix(name, "_PS"):
		return "fragment", nil
	case strings.HasSuffix(name, "_CS"):
		return "compute", nil
	case strings.HasSuffix(name, "_MS"):
		// mesh stages are drawn as vertex shaders that pull their data
		return "vertex", nil
	}
	return "", fmt.Errorf("no stage suffix in %s", path)
}

func upToDate(src, out string) bool {
	s, err := os.Stat(src)
	if err != nil {
		return false
	}
	o, err := os.Stat(out)
	if err != nil {
		return false
	}
	return !o.ModTime().Before(s.ModTime())
}
