package scheduler

import (
	"fmt"
	"strings"

	"github.com/sirhamy/phase-golem/internal/item"
)

// Filter is a conjunction of per-field criteria; within one field the
// listed values are disjunctive. Tags are the one field allowed to repeat
// across criteria, each occurrence then conjunctive.
type Filter struct {
	Status       []item.Status
	Impact       []item.Impact
	Size         []item.Size
	Risk         []item.Risk
	Complexity   []item.Risk
	PipelineType []string
	TagGroups    [][]string
}

var scalarFieldNames = map[string]bool{
	"status": true, "impact": true, "size": true, "risk": true,
	"complexity": true, "pipeline_type": true,
}

// ParseFilter parses a list of "field=v1,v2" criteria strings. Rejects
// unknown fields, unknown enum values, empty values, within-criterion
// duplicates, and a scalar field repeated across criteria (tag may
// repeat).
func ParseFilter(criteria []string) (*Filter, error) {
	f := &Filter{}
	seenScalar := make(map[string]bool)

	for _, c := range criteria {
		field, valuesRaw, ok := strings.Cut(c, "=")
		if !ok {
			return nil, fmt.Errorf("scheduler: malformed filter criterion %q, expected field=value", c)
		}
		field = strings.ToLower(strings.TrimSpace(field))
		values := strings.Split(valuesRaw, ",")

		seenInCriterion := make(map[string]bool)
		var cleaned []string
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v == "" {
				return nil, fmt.Errorf("scheduler: empty value in filter criterion %q", c)
			}
			key := strings.ToLower(v)
			if seenInCriterion[key] {
				return nil, fmt.Errorf("scheduler: duplicate value %q in criterion %q", v, c)
			}
			seenInCriterion[key] = true
			cleaned = append(cleaned, v)
		}

		if field != "tag" {
			if !scalarFieldNames[field] {
				return nil, fmt.Errorf("scheduler: unknown filter field %q", field)
			}
			if seenScalar[field] {
				return nil, fmt.Errorf("scheduler: field %q specified in more than one criterion", field)
			}
			seenScalar[field] = true
		}

		switch field {
		case "status":
			for _, v := range cleaned {
				s := item.Status(strings.ToLower(v))
				if !validStatus(s) {
					return nil, fmt.Errorf("scheduler: unknown status %q", v)
				}
				f.Status = append(f.Status, s)
			}
		case "impact":
			for _, v := range cleaned {
				s := item.Impact(strings.ToLower(v))
				if !validImpact(s) {
					return nil, fmt.Errorf("scheduler: unknown impact %q", v)
				}
				f.Impact = append(f.Impact, s)
			}
		case "size":
			for _, v := range cleaned {
				s := item.Size(strings.ToLower(v))
				if !validSize(s) {
					return nil, fmt.Errorf("scheduler: unknown size %q", v)
				}
				f.Size = append(f.Size, s)
			}
		case "risk":
			for _, v := range cleaned {
				s := item.Risk(strings.ToLower(v))
				if !validRisk(s) {
					return nil, fmt.Errorf("scheduler: unknown risk %q", v)
				}
				f.Risk = append(f.Risk, s)
			}
		case "complexity":
			for _, v := range cleaned {
				s := item.Risk(strings.ToLower(v))
				if !validRisk(s) {
					return nil, fmt.Errorf("scheduler: unknown complexity %q", v)
				}
				f.Complexity = append(f.Complexity, s)
			}
		case "pipeline_type":
			f.PipelineType = append(f.PipelineType, cleaned...)
		case "tag":
			f.TagGroups = append(f.TagGroups, cleaned)
		default:
			return nil, fmt.Errorf("scheduler: unknown filter field %q", field)
		}
	}
	return f, nil
}

func validStatus(s item.Status) bool {
	switch s {
	case item.StatusNew, item.StatusScoping, item.StatusReady, item.StatusInProgress, item.StatusDone, item.StatusBlocked:
		return true
	}
	return false
}

func validImpact(s item.Impact) bool {
	switch s {
	case item.ImpactLow, item.ImpactMedium, item.ImpactHigh:
		return true
	}
	return false
}

func validSize(s item.Size) bool {
	switch s {
	case item.SizeSmall, item.SizeMedium, item.SizeLarge:
		return true
	}
	return false
}

func validRisk(s item.Risk) bool {
	switch s {
	case item.RiskLow, item.RiskMedium, item.RiskHigh:
		return true
	}
	return false
}

// Match reports whether it satisfies every criterion. A missing field
// (empty criterion list) never fails a match. Tag matching is case
// sensitive exact membership; everything else is the case-insensitive
// enum already normalized during parsing.
func (f *Filter) Match(it item.Item) bool {
	if f == nil {
		return true
	}
	if len(f.Status) > 0 && !containsStatus(f.Status, it.Status) {
		return false
	}
	if len(f.Impact) > 0 && !containsImpact(f.Impact, it.Impact) {
		return false
	}
	if len(f.Size) > 0 && !containsSize(f.Size, it.Size) {
		return false
	}
	if len(f.Risk) > 0 && !containsRisk(f.Risk, it.Risk) {
		return false
	}
	if len(f.Complexity) > 0 && !containsRisk(f.Complexity, it.Complexity) {
		return false
	}
	if len(f.PipelineType) > 0 && !containsString(f.PipelineType, it.PipelineType) {
		return false
	}
	for _, group := range f.TagGroups {
		matched := false
		for _, tag := range group {
			if it.HasTag(tag) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func containsStatus(list []item.Status, s item.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
func containsImpact(list []item.Impact, s item.Impact) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
func containsSize(list []item.Size, s item.Size) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
func containsRisk(list []item.Risk, s item.Risk) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
func containsString(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
