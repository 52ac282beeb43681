package models

// Detection is one rule match against a snapshot: the condition the issue
// tracker should open or refresh, with candidate actions already ranked.
type Detection struct {
	Rule      string   `json:"rule"`
	Metric    string   `json:"metric"`
	Severity  Severity `json:"severity"`
	Actions   []string `json:"actions"`
	Emergency string   `json:"emergency,omitempty"`
}

// Key returns the issue identity for the detected condition.
func (d Detection) Key() string {
	return IssueKey(d.Rule, d.Metric)
}
