// Copyright 2021 JD Fergason
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
)

var (
	// commitHash contains the current Git revision.
	// Use mage to build to make sure this gets set.
	commitHash string

	// buildDate contains the date of the current build.
	buildDate string

	// vendorInfo contains vendor notes about the current build.
	vendorInfo string
)

// Version represents a SemVer 2.0.0 compatible build version
type Version struct {
	// Increment this for backwards incompatible changes
	Major int

	// Increment this for feature releases
	Minor int

	// Increment this for bug releases
	Patch int

	// VersionSuffix is the suffix used in the pvtracker version string.
	// It will be blank for release versions.
	Suffix string
}

// DependencyList returns the module dependencies compiled into the binary,
// sorted, each formatted as path="version". Replaced modules report the
// replacement version.
func DependencyList() []string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}

	deps := make([]string, 0, len(bi.Deps))
	for _, dep := range bi.Deps {
		version := dep.Version
		if dep.Replace != nil {
			version = dep.Replace.Version
		}
		deps = append(deps, fmt.Sprintf("%s=%q", dep.Path, version))
	}

	sort.Strings(deps)
	return deps
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Suffix == "" {
		return s
	}

	s += "-" + v.Suffix
	if commitHash != "" {
		s += "+" + strings.ToLower(commitHash)
	}
	return s
}

// BuildInfo describes the running pvtracker binary.
type BuildInfo struct {
	Version   string   `json:"version"`
	Platform  string   `json:"platform"`
	GoVersion string   `json:"goVersion"`
	BuildDate string   `json:"buildDate"`
	Commit    string   `json:"commit"`
	Vendor    string   `json:"vendor,omitempty"`
	Deps      []string `json:"dependencies,omitempty"`
}

// CurrentBuildInfo collects build metadata stamped by mage. Dependencies are
// only listed when withDeps is set.
func CurrentBuildInfo(withDeps bool) *BuildInfo {
	info := &BuildInfo{
		Version:   "v" + CurrentVersion.String(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		GoVersion: runtime.Version(),
		BuildDate: buildDate,
		Commit:    commitHash,
		Vendor:    vendorInfo,
	}

	if info.BuildDate == "" {
		info.BuildDate = "unknown"
	}

	if withDeps {
		info.Deps = DependencyList()
	}

	return info
}

// String renders the info the way "pvtracker version" prints it.
func (b *BuildInfo) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pvtracker %s %s\n\nBuild Date: %s\nCommit: %s\nBuilt with: %s",
		b.Version, b.Platform, b.BuildDate, b.Commit, b.GoVersion)

	if b.Vendor != "" {
		sb.WriteString("\nVendor Info: " + b.Vendor)
	}

	if len(b.Deps) > 0 {
		sb.WriteString("\n\nDependencies:\n\n" + strings.Join(b.Deps, "\n"))
	}

	return sb.String()
}
