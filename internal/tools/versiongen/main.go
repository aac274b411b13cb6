package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"pkt.systems/rshell/internal/version"
)

func main() {
	var outPath string
	var ldflags bool
	flag.StringVar(&outPath, "o", "", "write the version to this file")
	flag.BoolVar(&ldflags, "ldflags", false, "print the -X linker flag that stamps the version")
	flag.Parse()

	ver := strings.TrimSpace(version.CurrentWithDirty())
	if ver == "" {
		ver = "v0.0.0-unknown"
	}

	if outPath != "" {
		if err := writeVersionFile(outPath, ver); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
	}
	if ldflags {
		fmt.Fprintf(os.Stdout, "-X %s/internal/version.buildVersion=%s\n", version.Module(), ver)
		return
	}
	fmt.Fprintln(os.Stdout, ver)
}

// writeVersionFile rewrites path only when the version changed so
// generate runs do not touch an unchanged tree.
func writeVersionFile(path, ver string) error {
	want := ver + "\n"
	data, err := os.ReadFile(path)
	switch {
	case err == nil && string(data) == want:
		return nil
	case err != nil && !os.IsNotExist(err):
		return fmt.Errorf("read version file: %w", err)
	}
	if err := os.WriteFile(path, []byte(want), 0o644); err != nil {
		return fmt.Errorf("write version file: %w", err)
	}
	return nil
}
