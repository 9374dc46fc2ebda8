package verifications

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// incomeTolerance is the allowed relative gap between declared net pay and
// observed bank credits before the income check fails.
const incomeTolerance = 0.25

// RunConsistencyChecks applies the fixed cross-document rules to the
// extracted data of an application, keyed by document type. Rules whose
// inputs are missing are skipped, not failed. The function performs no I/O
// and is deterministic given data and now.
func RunConsistencyChecks(data map[string]map[string]any, now time.Time) []ConsistencyCheck {
	checks := make([]ConsistencyCheck, 0, 6)
	appendCheck := func(c *ConsistencyCheck) {
		if c != nil {
			checks = append(checks, *c)
		}
	}

	appendCheck(fieldMatchCheck(data, "name_match", "full_name", normalizeName))
	appendCheck(fieldMatchCheck(data, "dob_match", "date_of_birth", normalizeToken))
	appendCheck(fieldMatchCheck(data, "address_match", "address", normalizeAddress))
	appendCheck(incomeConsistencyCheck(data))
	appendCheck(idNotExpiredCheck(data, now))
	appendCheck(statementPeriodCheck(data, now))

	return checks
}

// fieldMatchCheck compares one field across every document type that carries
// it. Fewer than two occurrences means there is nothing to compare.
func fieldMatchCheck(data map[string]map[string]any, checkName, field string, normalize func(string) string) *ConsistencyCheck {
	type occurrence struct {
		docType string
		value   string
	}
	docTypes := make([]string, 0, len(data))
	for docType := range data {
		docTypes = append(docTypes, docType)
	}
	sort.Strings(docTypes)

	var seen []occurrence
	for _, docType := range docTypes {
		raw, ok := stringField(data[docType], field)
		if !ok {
			continue
		}
		seen = append(seen, occurrence{docType: docType, value: raw})
	}
	if len(seen) < 2 {
		return nil
	}

	first := seen[0]
	for _, occ := range seen[1:] {
		if normalize(occ.value) != normalize(first.value) {
			return &ConsistencyCheck{
				Name:   checkName,
				Status: CheckFail,
				Detail: fmt.Sprintf("%s %q does not match %s %q", occ.docType, occ.value, first.docType, first.value),
			}
		}
	}
	return &ConsistencyCheck{
		Name:   checkName,
		Status: CheckPass,
		Detail: fmt.Sprintf("consistent across %d documents", len(seen)),
	}
}

func incomeConsistencyCheck(data map[string]map[string]any) *ConsistencyCheck {
	netPay, ok := numberField(data["pay_slip"], "net_pay")
	if !ok {
		return nil
	}
	avgCredit, ok := numberField(data["bank_statement"], "average_monthly_credit")
	if !ok {
		return nil
	}
	if netPay <= 0 {
		return nil
	}

	gap := avgCredit - netPay
	if gap < 0 {
		gap = -gap
	}
	if gap/netPay > incomeTolerance {
		return &ConsistencyCheck{
			Name:   "income_consistency",
			Status: CheckFail,
			Detail: fmt.Sprintf("pay slip net pay %.2f differs from average monthly credit %.2f by more than %d%%", netPay, avgCredit, int(incomeTolerance*100)),
		}
	}
	return &ConsistencyCheck{
		Name:   "income_consistency",
		Status: CheckPass,
		Detail: fmt.Sprintf("net pay %.2f within tolerance of average monthly credit %.2f", netPay, avgCredit),
	}
}

func idNotExpiredCheck(data map[string]map[string]any, now time.Time) *ConsistencyCheck {
	raw, ok := stringField(data["identity_document"], "expiry_date")
	if !ok {
		return nil
	}
	expiry, err := parseDate(raw)
	if err != nil {
		return nil
	}
	if expiry.Before(now) {
		return &ConsistencyCheck{
			Name:   "id_not_expired",
			Status: CheckFail,
			Detail: fmt.Sprintf("identity document expired on %s", expiry.Format("2006-01-02")),
		}
	}
	return &ConsistencyCheck{
		Name:   "id_not_expired",
		Status: CheckPass,
		Detail: fmt.Sprintf("identity document valid until %s", expiry.Format("2006-01-02")),
	}
}

func statementPeriodCheck(data map[string]map[string]any, now time.Time) *ConsistencyCheck {
	startRaw, ok := stringField(data["bank_statement"], "statement_period_start")
	if !ok {
		return nil
	}
	endRaw, ok := stringField(data["bank_statement"], "statement_period_end")
	if !ok {
		return nil
	}
	start, err := parseDate(startRaw)
	if err != nil {
		return nil
	}
	end, err := parseDate(endRaw)
	if err != nil {
		return nil
	}

	if !start.Before(end) {
		return &ConsistencyCheck{
			Name:   "statement_period_valid",
			Status: CheckFail,
			Detail: fmt.Sprintf("statement period start %s is not before end %s", start.Format("2006-01-02"), end.Format("2006-01-02")),
		}
	}
	if end.After(now) {
		return &ConsistencyCheck{
			Name:   "statement_period_valid",
			Status: CheckFail,
			Detail: fmt.Sprintf("statement period ends in the future (%s)", end.Format("2006-01-02")),
		}
	}
	return &ConsistencyCheck{
		Name:   "statement_period_valid",
		Status: CheckPass,
		Detail: fmt.Sprintf("statement covers %s to %s", start.Format("2006-01-02"), end.Format("2006-01-02")),
	}
}

func stringField(fields map[string]any, key string) (string, bool) {
	if fields == nil {
		return "", false
	}
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

func numberField(fields map[string]any, key string) (float64, bool) {
	if fields == nil {
		return 0, false
	}
	raw, ok := fields[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		cleaned := strings.TrimSpace(strings.ReplaceAll(v, ",", ""))
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"2006-01-02", time.RFC3339, "02/01/2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeAddress(s string) string {
	s = strings.ToLower(s)
	for _, r := range []string{",", ".", "\n"} {
		s = strings.ReplaceAll(s, r, " ")
	}
	return strings.Join(strings.Fields(s), " ")
}
