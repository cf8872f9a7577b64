package etl

import (
	"regexp"
	"strings"
)

// heuristicClassifier classifies column sensitivity from the column name and
// a sample of its content. It is the default behind auto_mask; deployments
// plug their own SensitivityClassifier through the engine options.
type heuristicClassifier struct{}

// DefaultSensitivityClassifier the built-in name/content heuristic.
func DefaultSensitivityClassifier() SensitivityClassifier {
	return &heuristicClassifier{}
}

var (
	criticalNames = []string{"password", "passwd", "secret", "token", "ssn", "id_card", "idcard", "credit_card", "card_no", "cvv"}
	highNames     = []string{"phone", "mobile", "email", "mail", "address", "salary", "income", "account", "iban", "bank"}
	mediumNames   = []string{"name", "birthday", "birth_date", "dob", "gender", "age", "zip", "postcode"}

	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 \-()]{6,18}[0-9]$`)
	cardPattern  = regexp.MustCompile(`^[0-9]{13,19}$`)
	idPattern    = regexp.MustCompile(`^[0-9]{15}([0-9]{2}[0-9Xx])?$`)
)

func (c *heuristicClassifier) ClassifySensitivity(columnName string, samples []interface{}) Sensitivity {
	name := strings.ToLower(columnName)
	for _, marker := range criticalNames {
		if strings.Contains(name, marker) {
			return SensitivityCritical
		}
	}
	for _, marker := range highNames {
		if strings.Contains(name, marker) {
			return SensitivityHigh
		}
	}
	byName := SensitivityLow
	for _, marker := range mediumNames {
		if strings.Contains(name, marker) {
			byName = SensitivityMedium
			break
		}
	}

	byContent := classifyContent(samples)
	if byContent > byName {
		return byContent
	}
	return byName
}

// classifyContent vote over the sampled values; a pattern has to dominate the
// sample before it raises the sensitivity, so a stray email in a comment
// column does not trigger masking.
func classifyContent(samples []interface{}) Sensitivity {
	if len(samples) == 0 {
		return SensitivityLow
	}
	var email, phone, card, id int
	for _, v := range samples {
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		switch {
		case emailPattern.MatchString(s):
			email++
		case cardPattern.MatchString(s):
			card++
		case idPattern.MatchString(s):
			id++
		case phonePattern.MatchString(s):
			phone++
		}
	}
	majority := len(samples)/2 + 1
	switch {
	case card >= majority || id >= majority:
		return SensitivityCritical
	case email >= majority || phone >= majority:
		return SensitivityHigh
	}
	return SensitivityLow
}
