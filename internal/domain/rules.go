package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// Recognized assignment rule keys.
const (
	RuleDepartment     = "department"
	RuleLocation       = "location"
	RuleMinExperience  = "min_experience"
	RuleMaxActiveTasks = "max_active_tasks"
)

// Rules is a task-scoped set of eligibility predicates. A nil field means
// the predicate is absent and therefore vacuously satisfied. An entirely
// empty Rules matches every active user.
type Rules struct {
	// Department must equal the candidate's department (case-sensitive).
	Department *string `json:"department,omitempty"`

	// Location must equal the candidate's location (case-sensitive).
	Location *string `json:"location,omitempty"`

	// MinExperience is an inclusive lower bound on experience_years.
	MinExperience *int `json:"min_experience,omitempty"`

	// MaxActiveTasks is an exclusive upper bound on the candidate's
	// active-task count: a candidate with exactly this many active tasks
	// is not eligible.
	MaxActiveTasks *int `json:"max_active_tasks,omitempty"`
}

// Empty reports whether no predicate is set.
func (r Rules) Empty() bool {
	return r.Department == nil && r.Location == nil &&
		r.MinExperience == nil && r.MaxActiveTasks == nil
}

// NeedsActiveCount reports whether evaluating these rules requires the
// candidate's derived active-task count.
func (r Rules) NeedsActiveCount() bool {
	return r.MaxActiveTasks != nil
}

// ParseRules validates a raw rules mapping, as stored in the task's JSONB
// payload, into a typed Rules value. It fails fast on unknown keys and
// malformed values so that bad payloads are rejected at task create/update
// time and never reach evaluation.
func ParseRules(raw map[string]any) (Rules, error) {
	var rules Rules
	for key, value := range raw {
		switch key {
		case RuleDepartment:
			s, err := stringValue(key, value)
			if err != nil {
				return Rules{}, err
			}
			rules.Department = &s
		case RuleLocation:
			s, err := stringValue(key, value)
			if err != nil {
				return Rules{}, err
			}
			rules.Location = &s
		case RuleMinExperience:
			n, err := intValue(key, value)
			if err != nil {
				return Rules{}, err
			}
			if n < 0 {
				return Rules{}, fmt.Errorf("%w: %s must be >= 0, got %d", ErrInvalidRuleValue, key, n)
			}
			rules.MinExperience = &n
		case RuleMaxActiveTasks:
			n, err := intValue(key, value)
			if err != nil {
				return Rules{}, err
			}
			if n < 1 {
				return Rules{}, fmt.Errorf("%w: %s must be >= 1, got %d", ErrInvalidRuleValue, key, n)
			}
			rules.MaxActiveTasks = &n
		default:
			return Rules{}, fmt.Errorf("%w: %q", ErrUnknownRuleKey, key)
		}
	}
	return rules, nil
}

// stringValue coerces a raw rule value to a non-empty string.
func stringValue(key string, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidRuleValue, key, value)
	}
	if s == "" {
		return "", fmt.Errorf("%w: %s must not be empty", ErrInvalidRuleValue, key)
	}
	return s, nil
}

// intValue coerces a raw rule value to an integer. JSON decoding yields
// float64 for numbers, so integral floats are accepted; fractional values
// and every other type are rejected.
func intValue(key string, value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidRuleValue, key, v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidRuleValue, key, v.String())
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: %s must be an integer, got %T", ErrInvalidRuleValue, key, value)
	}
}

// Map renders the rules back into the wire form used for decision
// snapshots and logging.
func (r Rules) Map() map[string]any {
	m := make(map[string]any)
	if r.Department != nil {
		m[RuleDepartment] = *r.Department
	}
	if r.Location != nil {
		m[RuleLocation] = *r.Location
	}
	if r.MinExperience != nil {
		m[RuleMinExperience] = *r.MinExperience
	}
	if r.MaxActiveTasks != nil {
		m[RuleMaxActiveTasks] = *r.MaxActiveTasks
	}
	return m
}

// PredicateFailure describes one rule predicate a candidate did not
// satisfy, for diagnostics and debug logging.
type PredicateFailure struct {
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

// Evaluation is the result of evaluating a full rules mapping against a
// single candidate.
type Evaluation struct {
	Eligible bool
	Failed   []PredicateFailure
}

// Evaluate checks every predicate in r against the candidate and returns
// whether the candidate matches, along with the individual predicates that
// failed. The candidate's ActiveTaskCount must already be resolved by the
// caller. Inactive users never match, regardless of rules.
func (r Rules) Evaluate(u UserProjection) Evaluation {
	var failed []PredicateFailure

	if !u.IsActive {
		failed = append(failed, PredicateFailure{
			Rule:   "is_active",
			Detail: "user is inactive",
		})
	}
	if r.Department != nil && u.Department != *r.Department {
		failed = append(failed, PredicateFailure{
			Rule:   RuleDepartment,
			Detail: fmt.Sprintf("want %q, got %q", *r.Department, u.Department),
		})
	}
	if r.Location != nil && u.Location != *r.Location {
		failed = append(failed, PredicateFailure{
			Rule:   RuleLocation,
			Detail: fmt.Sprintf("want %q, got %q", *r.Location, u.Location),
		})
	}
	if r.MinExperience != nil && u.ExperienceYears < *r.MinExperience {
		failed = append(failed, PredicateFailure{
			Rule:   RuleMinExperience,
			Detail: fmt.Sprintf("want >= %d, got %d", *r.MinExperience, u.ExperienceYears),
		})
	}
	if r.MaxActiveTasks != nil && u.ActiveTaskCount >= *r.MaxActiveTasks {
		failed = append(failed, PredicateFailure{
			Rule:   RuleMaxActiveTasks,
			Detail: fmt.Sprintf("want < %d, got %d", *r.MaxActiveTasks, u.ActiveTaskCount),
		})
	}

	return Evaluation{Eligible: len(failed) == 0, Failed: failed}
}
