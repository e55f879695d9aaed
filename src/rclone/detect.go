package rclone

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"compose-backup/src/util/command"
)

// RequiredVersion is the first rclone release with --suffix-keep-extension.
const RequiredVersion = "1.48.0"

// BinaryInfo describes a detected rclone binary.
type BinaryInfo struct {
	Path    string
	Version string
}

var versionRegexp = regexp.MustCompile(`rclone\s+v?([0-9]+\.[0-9]+\.[0-9]+(?:-[A-Za-z0-9.]+)?)`)

var lookPath = exec.LookPath

// Detect locates rclone on PATH and queries its version through runner.
func Detect(ctx context.Context, runner command.Runner) (BinaryInfo, error) {
	exe, err := lookPath("rclone")
	if err != nil {
		return BinaryInfo{}, fmt.Errorf("rclone binary not found on PATH: %w", err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}
	res, err := runner.Run(ctx, exe, "version")
	if err != nil {
		return BinaryInfo{}, fmt.Errorf("rclone: version command failed: %w", err)
	}
	ver, err := ExtractVersion(res.Stdout)
	if err != nil {
		return BinaryInfo{}, err
	}
	if ver == "" {
		return BinaryInfo{}, errors.New("rclone: could not parse version output")
	}
	return BinaryInfo{Path: exe, Version: ver}, nil
}

// SetLookPathForTest replaces the PATH lookup used by Detect.
func SetLookPathForTest(fn func(string) (string, error)) func() {
	prev := lookPath
	lookPath = fn
	return func() { lookPath = prev }
}

// ExtractVersion returns the version found in `rclone version` output, or ""
// when none is present.
func ExtractVersion(output string) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		if m := versionRegexp.FindStringSubmatch(scanner.Text()); len(m) == 2 {
			return m[1], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("rclone: read version output: %w", err)
	}
	return "", nil
}

// IsCompatible reports whether version satisfies RequiredVersion.
func IsCompatible(version string) bool {
	left, ok := parseSemVersion(version)
	if !ok {
		return false
	}
	right, _ := parseSemVersion(RequiredVersion)
	return compareSemVersion(left, right) >= 0
}

type semVersion struct {
	major, minor, patch int
	pre                 string
}

func parseSemVersion(s string) (semVersion, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return semVersion{}, false
	}
	core, pre, _ := strings.Cut(s, "-")
	nums := strings.Split(core, ".")
	if len(nums) != 3 {
		return semVersion{}, false
	}
	var v [3]int
	for i, n := range nums {
		x, err := strconv.Atoi(n)
		if err != nil {
			return semVersion{}, false
		}
		v[i] = x
	}
	return semVersion{major: v[0], minor: v[1], patch: v[2], pre: pre}, true
}

func compareSemVersion(a, b semVersion) int {
	for _, d := range [][2]int{{a.major, b.major}, {a.minor, b.minor}, {a.patch, b.patch}} {
		if d[0] != d[1] {
			if d[0] > d[1] {
				return 1
			}
			return -1
		}
	}
	switch {
	case a.pre == b.pre:
		return 0
	case a.pre == "":
		return 1
	case b.pre == "":
		return -1
	}
	return strings.Compare(a.pre, b.pre)
}
