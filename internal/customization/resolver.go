// Package customization turns a product's option groups and a shopper's
// choices into the flat list of selections that is priced and snapshotted.
package customization

import (
	"fmt"
	"sort"
	"strings"

	"github.com/safar/print-market/internal/models"
)

type ProblemKind string

const (
	MissingRequiredSelection ProblemKind = "missing_required_selection"
	TooManySelections        ProblemKind = "too_many_selections"
	UnknownOption            ProblemKind = "unknown_option"
)

type Problem struct {
	Kind      ProblemKind `json:"kind"`
	GroupID   string      `json:"group_id"`
	GroupName string      `json:"group_name"`
	OptionID  string      `json:"option_id,omitempty"`
}

func (p Problem) String() string {
	switch p.Kind {
	case MissingRequiredSelection:
		return fmt.Sprintf("%s: a selection is required", p.GroupName)
	case TooManySelections:
		return fmt.Sprintf("%s: only one option may be selected", p.GroupName)
	case UnknownOption:
		return fmt.Sprintf("%s: unknown option %q", p.GroupName, p.OptionID)
	}
	return fmt.Sprintf("%s: %s", p.GroupName, p.Kind)
}

// ValidationError collects every problem found in one resolution so callers
// can report them together.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.String()
	}
	return "invalid customization: " + strings.Join(msgs, "; ")
}

// MissingGroups names the required groups that have no selection.
func (e *ValidationError) MissingGroups() []string {
	var names []string
	for _, p := range e.Problems {
		if p.Kind == MissingRequiredSelection {
			names = append(names, p.GroupName)
		}
	}
	return names
}

// LegacyMode derives the selection mode from the old single is_required
// flag: required groups were radio buttons, optional ones checkboxes.
func LegacyMode(isRequired bool) models.SelectionMode {
	if isRequired {
		return models.SelectionSingle
	}
	return models.SelectionMulti
}

// Resolve validates selections (option ids keyed by group id) against
// groups and flattens them in group then option display order.
func Resolve(groups []models.CustomizationGroup, selections map[string][]string) ([]models.SelectedCustomization, error) {
	var problems []Problem
	resolved := []models.SelectedCustomization{}

	for _, group := range sortedGroups(groups) {
		chosen := dedupe(selections[group.ID])

		if len(chosen) == 0 {
			if group.Required {
				problems = append(problems, Problem{
					Kind:      MissingRequiredSelection,
					GroupID:   group.ID,
					GroupName: group.Name,
				})
			}
			continue
		}

		if group.SelectionMode == models.SelectionSingle && len(chosen) > 1 {
			problems = append(problems, Problem{
				Kind:      TooManySelections,
				GroupID:   group.ID,
				GroupName: group.Name,
			})
			continue
		}

		known := make(map[string]bool, len(group.Options))
		for _, opt := range group.Options {
			known[opt.ID] = true
		}
		picked := make(map[string]bool, len(chosen))
		for _, id := range chosen {
			if !known[id] {
				problems = append(problems, Problem{
					Kind:      UnknownOption,
					GroupID:   group.ID,
					GroupName: group.Name,
					OptionID:  id,
				})
				continue
			}
			picked[id] = true
		}

		for _, opt := range sortedOptions(group.Options) {
			if !picked[opt.ID] {
				continue
			}
			resolved = append(resolved, models.SelectedCustomization{
				GroupName:     group.Name,
				OptionName:    opt.Name,
				PriceModifier: opt.PriceModifier,
			})
		}
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return resolved, nil
}

// DefaultSelections returns the options flagged as defaults, keyed by group.
// Single-select groups keep only their first default in display order.
func DefaultSelections(groups []models.CustomizationGroup) map[string][]string {
	defaults := make(map[string][]string)

	for _, group := range groups {
		for _, opt := range sortedOptions(group.Options) {
			if !opt.IsDefault {
				continue
			}
			defaults[group.ID] = append(defaults[group.ID], opt.ID)
			if group.SelectionMode == models.SelectionSingle {
				break
			}
		}
	}

	return defaults
}

func sortedGroups(groups []models.CustomizationGroup) []models.CustomizationGroup {
	out := append([]models.CustomizationGroup(nil), groups...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DisplayOrder < out[j].DisplayOrder
	})
	return out
}

func sortedOptions(options []models.CustomizationOption) []models.CustomizationOption {
	out := append([]models.CustomizationOption(nil), options...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DisplayOrder < out[j].DisplayOrder
	})
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
