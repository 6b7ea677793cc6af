package gemini

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Analysis is the validated result of one chart scan. Required fields are
// defaulted at parse time so downstream formatting never deals with holes.
type Analysis struct {
	Token            string
	Ticker           string
	ContractAddress  string
	Timeframe        string
	Platform         string
	CurrentPrice     string
	Trend            string
	TrendStrength    string
	SupportLevels    []string
	ResistanceLevels []string
	ChartPatterns    []string
	CandlePatterns   []string
	VolumeTrend      string
	VolumeNotes      string
	RiskLevel        string
	RiskNotes        string
	Verdict          string
	Action           string
	Confidence       int
	DetailedAnalysis string

	// Raw is the model's JSON payload as received, kept for the scan record.
	Raw string
}

// flexString tolerates the model emitting numbers or null where the contract
// asks for strings (price levels are a frequent offender).
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*f = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexString(num.String())
		return nil
	}
	return fmt.Errorf("unexpected value %s", s)
}

type wireAnalysis struct {
	Token            flexString      `json:"token"`
	Ticker           flexString      `json:"ticker"`
	ContractAddress  flexString      `json:"contract_address"`
	Timeframe        flexString      `json:"timeframe"`
	Platform         flexString      `json:"platform"`
	CurrentPrice     flexString      `json:"current_price"`
	Trend            flexString      `json:"trend"`
	TrendStrength    flexString      `json:"trend_strength"`
	SupportLevels    []flexString    `json:"support_levels"`
	ResistanceLevels []flexString    `json:"resistance_levels"`
	ChartPatterns    []flexString    `json:"chart_patterns"`
	CandlePatterns   []flexString    `json:"candle_patterns"`
	VolumeTrend      flexString      `json:"volume_trend"`
	VolumeNotes      flexString      `json:"volume_notes"`
	RiskLevel        flexString      `json:"risk_level"`
	RiskNotes        flexString      `json:"risk_notes"`
	Verdict          flexString      `json:"verdict"`
	Action           flexString      `json:"action"`
	Confidence       json.RawMessage `json:"confidence"`
	DetailedAnalysis flexString      `json:"detailed_analysis"`
}

var (
	codeFenceRe     = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// ParseAnalysis extracts the JSON object from a model reply (which may wrap
// it in a markdown code fence or leave trailing commas) and validates it.
func ParseAnalysis(text string) (*Analysis, error) {
	text = strings.TrimSpace(text)
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	text = trailingCommaRe.ReplaceAllString(text, "$1")

	var wire wireAnalysis
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return nil, fmt.Errorf("parse analysis: %w", err)
	}

	a := &Analysis{
		Token:            stringOr(wire.Token, "Unknown"),
		Ticker:           string(wire.Ticker),
		ContractAddress:  cleanAbsent(string(wire.ContractAddress)),
		Timeframe:        string(wire.Timeframe),
		Platform:         string(wire.Platform),
		CurrentPrice:     string(wire.CurrentPrice),
		Trend:            stringOr(wire.Trend, "Unknown"),
		TrendStrength:    string(wire.TrendStrength),
		SupportLevels:    toStrings(wire.SupportLevels),
		ResistanceLevels: toStrings(wire.ResistanceLevels),
		ChartPatterns:    toStrings(wire.ChartPatterns),
		CandlePatterns:   toStrings(wire.CandlePatterns),
		VolumeTrend:      string(wire.VolumeTrend),
		VolumeNotes:      string(wire.VolumeNotes),
		RiskLevel:        stringOr(wire.RiskLevel, "Unknown"),
		RiskNotes:        string(wire.RiskNotes),
		Verdict:          stringOr(wire.Verdict, "Unknown"),
		Action:           stringOr(wire.Action, "Unknown"),
		Confidence:       parseConfidence(wire.Confidence),
		DetailedAnalysis: string(wire.DetailedAnalysis),
		Raw:              text,
	}
	return a, nil
}

func parseConfidence(raw json.RawMessage) int {
	const fallback = 5
	if len(raw) == 0 {
		return fallback
	}
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	conf := int(n)
	if conf < 1 {
		conf = 1
	}
	if conf > 10 {
		conf = 10
	}
	return conf
}

func stringOr(v flexString, fallback string) string {
	if s := strings.TrimSpace(string(v)); s != "" {
		return s
	}
	return fallback
}

// cleanAbsent maps the model's various spellings of "nothing there" to "".
func cleanAbsent(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "none", "n/a", "unknown", "not visible":
		return ""
	}
	return strings.TrimSpace(s)
}

func toStrings(values []flexString) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s := strings.TrimSpace(string(v)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
