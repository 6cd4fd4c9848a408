package ratesource

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bher20/erateestimator/internal/tariff"
)

// ErrNoVersions is returned when a document holds no usable rate version.
var ErrNoVersions = errors.New("no valid rate versions")

// Document is the wire envelope. Decode also accepts a bare array of
// versions or a single version object.
type Document struct {
	Versions []WireVersion `json:"versions"`
}

type WireVersion struct {
	VersionID     string     `json:"version_id"`
	EffectiveFrom string     `json:"effective_from"`
	EffectiveTo   string     `json:"effective_to,omitempty"`
	Summer        []WireTier `json:"summer"`
	NonSummer     []WireTier `json:"non_summer"`
}

// WireTier keeps raw values so malformed entries can be skipped one by one
// instead of failing the whole document.
type WireTier struct {
	UpperBoundKWh json.RawMessage `json:"upper_bound_kwh"`
	UnitPrice     json.RawMessage `json:"unit_price"`
}

// Decode parses a rate document and returns its valid versions. Malformed
// tiers are dropped with a warning; versions that remain invalid are dropped
// with a warning too. It fails only on unreadable JSON or when nothing valid
// is left.
func Decode(r io.Reader, log zerolog.Logger) ([]tariff.RateVersion, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rate document: %w", err)
	}
	wire, err := parseDocument(raw)
	if err != nil {
		return nil, err
	}

	out := make([]tariff.RateVersion, 0, len(wire))
	for i, wv := range wire {
		v, err := wv.toVersion(log)
		if err != nil {
			log.Warn().Err(err).Int("index", i).Str("version_id", wv.VersionID).Msg("skipping rate version")
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, ErrNoVersions
	}
	return out, nil
}

// DecodeBytes is Decode over an in-memory payload.
func DecodeBytes(b []byte, log zerolog.Logger) ([]tariff.RateVersion, error) {
	return Decode(bytes.NewReader(b), log)
}

func parseDocument(raw []byte) ([]WireVersion, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("decode rate document: empty input")
	}

	switch trimmed[0] {
	case '[':
		var list []WireVersion
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode rate document: %w", err)
		}
		return list, nil
	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return nil, fmt.Errorf("decode rate document: %w", err)
		}
		if _, ok := probe["versions"]; ok {
			var doc Document
			if err := json.Unmarshal(trimmed, &doc); err != nil {
				return nil, fmt.Errorf("decode rate document: %w", err)
			}
			return doc.Versions, nil
		}
		var single WireVersion
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, fmt.Errorf("decode rate document: %w", err)
		}
		return []WireVersion{single}, nil
	}
	return nil, fmt.Errorf("decode rate document: expected object or array")
}

func (wv WireVersion) toVersion(log zerolog.Logger) (tariff.RateVersion, error) {
	id := strings.TrimSpace(wv.VersionID)
	if id == "" {
		return tariff.RateVersion{}, fmt.Errorf("%w: missing version id", tariff.ErrInvalidRateVersion)
	}
	from, err := tariff.ParseDate(wv.EffectiveFrom)
	if err != nil {
		return tariff.RateVersion{}, fmt.Errorf("%w: %s: effective_from: %v", tariff.ErrInvalidRateVersion, id, err)
	}
	to := tariff.OpenEnded
	if wv.EffectiveTo != "" {
		if to, err = tariff.ParseDate(wv.EffectiveTo); err != nil {
			return tariff.RateVersion{}, fmt.Errorf("%w: %s: effective_to: %v", tariff.ErrInvalidRateVersion, id, err)
		}
	}

	tl := log.With().Str("version_id", id).Logger()
	v := tariff.RateVersion{
		VersionID:     id,
		EffectiveFrom: from,
		EffectiveTo:   to,
		Summer:        decodeTable(wv.Summer, tl.With().Str("season", string(tariff.SeasonSummer)).Logger()),
		NonSummer:     decodeTable(wv.NonSummer, tl.With().Str("season", string(tariff.SeasonNonSummer)).Logger()),
	}
	if err := v.Validate(); err != nil {
		return tariff.RateVersion{}, err
	}
	return v, nil
}

// decodeTable keeps the well-formed tiers in order. A tier is dropped when
// its price is missing, non-numeric or not positive, when its bound is
// non-numeric or not above the previous bound, or when it follows the open
// tier.
func decodeTable(tiers []WireTier, log zerolog.Logger) tariff.SeasonTierTable {
	out := make(tariff.SeasonTierTable, 0, len(tiers))
	prev := 0.0
	open := false
	for i, wt := range tiers {
		skip := func(reason string) {
			log.Warn().Int("tier", i+1).Str("reason", reason).Msg("skipping malformed tier")
		}

		price, ok, err := parseNumber(wt.UnitPrice)
		switch {
		case err != nil:
			skip("unit_price: " + err.Error())
			continue
		case !ok:
			skip("unit_price missing")
			continue
		case price <= 0:
			skip("unit_price must be positive")
			continue
		}
		if open {
			skip("tier after open-ended tier")
			continue
		}

		bound, bounded, err := parseNumber(wt.UpperBoundKWh)
		if err != nil {
			skip("upper_bound_kwh: " + err.Error())
			continue
		}
		if !bounded {
			open = true
			out = append(out, tariff.Tier{UnitPrice: price})
			continue
		}
		if bound <= prev {
			skip("upper_bound_kwh not above previous bound")
			continue
		}
		prev = bound
		b := bound
		out = append(out, tariff.Tier{UpperBoundKWh: &b, UnitPrice: price})
	}
	return out
}

// parseNumber accepts a JSON number or a numeric string. ok is false for an
// absent or null value.
func parseNumber(raw json.RawMessage) (float64, bool, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, false, nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, false, err
		}
		s = strings.TrimSpace(str)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("not a number: %s", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, fmt.Errorf("not a finite number: %s", s)
	}
	return f, true, nil
}

// ToWire converts versions back to their wire form.
func ToWire(versions []tariff.RateVersion) Document {
	doc := Document{Versions: make([]WireVersion, 0, len(versions))}
	for _, v := range versions {
		doc.Versions = append(doc.Versions, WireVersion{
			VersionID:     v.VersionID,
			EffectiveFrom: tariff.FormatDate(v.EffectiveFrom),
			EffectiveTo:   tariff.FormatDate(v.EffectiveTo),
			Summer:        encodeTable(v.Summer),
			NonSummer:     encodeTable(v.NonSummer),
		})
	}
	return doc
}

func encodeTable(t tariff.SeasonTierTable) []WireTier {
	out := make([]WireTier, 0, len(t))
	for _, tier := range t {
		bound := json.RawMessage("null")
		if !tier.IsOpen() {
			bound = json.RawMessage(strconv.FormatFloat(*tier.UpperBoundKWh, 'f', -1, 64))
		}
		out = append(out, WireTier{
			UpperBoundKWh: bound,
			UnitPrice:     json.RawMessage(strconv.FormatFloat(tier.UnitPrice, 'f', -1, 64)),
		})
	}
	return out
}

// Encode writes versions as an indented {"versions": [...]} document.
func Encode(w io.Writer, versions []tariff.RateVersion) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ToWire(versions))
}
