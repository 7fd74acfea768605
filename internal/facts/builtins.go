package facts

import (
	"github.com/xfidelity/xfidelity/internal/xfitypes"
)

// DependencyData is the value produced by the "dependencyData" fact:
// the repo's installed dependency versions alongside the archetype's
// declared minimums, so rule conditions can compare them via the
// hasMinVersion operator.
type DependencyData struct {
	InstalledDependencyVersions map[string]string `json:"installedDependencyVersions"`
	MinimumDependencyVersions   map[string]string `json:"minimumDependencyVersions"`
}

// RepoDependencyAnalysis is the aggregate output fact the rules engine
// host installs per spec.md §4.4, summarizing every outdated/missing
// dependency across the whole dependencyData set.
type RepoDependencyAnalysis struct {
	Outdated []OutdatedDependency `json:"outdated"`
}

// OutdatedDependency names one package whose installed version fails its
// archetype's configured minimum.
type OutdatedDependency struct {
	Package   string `json:"package"`
	Installed string `json:"installed"`
	Required  string `json:"required"`
}

// NewFileDataFact builds the "fileData" fact: the FileData record for the
// file currently under evaluation. It never consults other facts.
func NewFileDataFact(fd xfitypes.FileData) Fact {
	return Fact{
		Name:     "fileData",
		Priority: 1,
		Produce: func(_ map[string]any, _ *Almanac) (any, error) {
			return fd, nil
		},
	}
}

// NewDependencyDataFact builds the "dependencyData" fact from the repo's
// installed package versions and the archetype's configured minimums.
func NewDependencyDataFact(installed, minimums map[string]string) Fact {
	return Fact{
		Name:     "dependencyData",
		Priority: 1,
		Produce: func(_ map[string]any, _ *Almanac) (any, error) {
			return DependencyData{
				InstalledDependencyVersions: installed,
				MinimumDependencyVersions:   minimums,
			}, nil
		},
	}
}

// NewStandardStructureFact builds the "standardStructure" fact: the
// archetype's declared directory tree, exposed verbatim for rules that
// check the repo's layout against it.
func NewStandardStructureFact(tree map[string]any) Fact {
	return Fact{
		Name:     "standardStructure",
		Priority: 1,
		Produce: func(_ map[string]any, _ *Almanac) (any, error) {
			return tree, nil
		},
	}
}

// NewRepoDependencyAnalysisFact builds the aggregate "repoDependencyAnalysis"
// output fact (spec.md §4.4), which reads back through the almanac's
// "dependencyData" fact (the lazy fact graph) rather than taking its own
// input, so it reflects whatever dependencyData was registered for this
// run.
func NewRepoDependencyAnalysisFact(meetsMinimum func(installed, required string) bool) Fact {
	return Fact{
		Name:     "repoDependencyAnalysis",
		Priority: 1,
		Produce: func(_ map[string]any, alm *Almanac) (any, error) {
			raw, ok, err := alm.Get("dependencyData")
			if err != nil {
				return nil, err
			}
			if !ok {
				return RepoDependencyAnalysis{}, nil
			}
			dep, ok := raw.(DependencyData)
			if !ok {
				return RepoDependencyAnalysis{}, nil
			}

			var outdated []OutdatedDependency
			for pkg, required := range dep.MinimumDependencyVersions {
				installed, present := dep.InstalledDependencyVersions[pkg]
				if !present {
					outdated = append(outdated, OutdatedDependency{Package: pkg, Installed: "", Required: required})
					continue
				}
				if !meetsMinimum(installed, required) {
					outdated = append(outdated, OutdatedDependency{Package: pkg, Installed: installed, Required: required})
				}
			}
			return RepoDependencyAnalysis{Outdated: outdated}, nil
		},
	}
}
