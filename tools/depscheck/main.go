// Command depscheck fails when a package imports across a forbidden layer
// boundary. Run it from the module root.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const modulePath = "simhost/server"

type packageInfo struct {
	ImportPath string
	Imports    []string
}

// rule forbids packages under From from importing anything under To.
type rule struct {
	From string
	To   []string
}

// rules keep the subsystems below the server from reaching back up into it,
// and keep the bus and the loop free of world semantics.
var rules = []rule{
	{From: "internal/transport", To: []string{"internal/server", "internal/physics", "internal/sim", "internal/world"}},
	{From: "internal/sim", To: []string{"internal/server", "internal/transport", "internal/physics", "internal/world"}},
	{From: "internal/world", To: []string{"internal/server", "internal/transport", "internal/physics"}},
	{From: "internal/physics", To: []string{"internal/server", "internal/transport", "internal/sensors"}},
	{From: "internal/sensors", To: []string{"internal/server", "internal/transport"}},
	{From: "internal/plugin", To: []string{"internal/server"}},
	{From: "internal/logplay", To: []string{"internal/server", "internal/transport"}},
	{From: "logging", To: []string{"internal/"}},
}

func main() {
	cmd := exec.Command("go", "list", "-json", "./...")
	cmd.Env = os.Environ()
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Stderr.Write(exitErr.Stderr)
		}
		fmt.Fprintf(os.Stderr, "depscheck: failed to list packages: %v\n", err)
		os.Exit(1)
	}

	packages, err := decodePackages(bytes.NewReader(output))
	if err != nil {
		fmt.Fprintf(os.Stderr, "depscheck: failed to decode package info: %v\n", err)
		os.Exit(1)
	}

	violations := checkImports(packages, rules)
	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range violations {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

func decodePackages(r io.Reader) ([]packageInfo, error) {
	decoder := json.NewDecoder(r)
	var packages []packageInfo
	for {
		var pkg packageInfo
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				return packages, nil
			}
			return nil, err
		}
		packages = append(packages, pkg)
	}
}

func checkImports(packages []packageInfo, rules []rule) []string {
	var violations []string
	for _, pkg := range packages {
		for _, r := range rules {
			if !within(pkg.ImportPath, r.From) {
				continue
			}
			for _, imp := range pkg.Imports {
				for _, forbidden := range r.To {
					if within(imp, forbidden) {
						violations = append(violations, fmt.Sprintf("%s -> %s", pkg.ImportPath, imp))
					}
				}
			}
		}
	}
	sort.Strings(violations)
	return violations
}

// within reports whether importPath is the module-relative package rel or
// one of its children. A rel ending in "/" matches by prefix only.
func within(importPath, rel string) bool {
	full := modulePath + "/" + rel
	if strings.HasSuffix(rel, "/") {
		return strings.HasPrefix(importPath, full)
	}
	return importPath == full || strings.HasPrefix(importPath, full+"/")
}
