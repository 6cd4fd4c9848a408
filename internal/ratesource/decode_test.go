package ratesource

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/erateestimator/internal/tariff"
)

const sampleVersion = `{
  "version_id": "2024-04",
  "effective_from": "2024-04-01",
  "effective_to": "9999-12-31",
  "summer": [
    {"upper_bound_kwh": 120, "unit_price": 1.78},
    {"upper_bound_kwh": 330, "unit_price": 2.55},
    {"upper_bound_kwh": null, "unit_price": 3.80}
  ],
  "non_summer": [
    {"upper_bound_kwh": 120, "unit_price": 1.78},
    {"upper_bound_kwh": null, "unit_price": 2.26}
  ]
}`

const olderVersion = `{
  "version_id": "2023-04",
  "effective_from": "2023-04-01",
  "effective_to": "2024-03-31",
  "summer": [{"upper_bound_kwh": 120, "unit_price": 1.68}, {"unit_price": 2.45}],
  "non_summer": [{"upper_bound_kwh": 120, "unit_price": 1.68}, {"unit_price": 2.16}]
}`

func TestDecode_DocumentShapes(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want []string
	}{
		{"single object", sampleVersion, []string{"2024-04"}},
		{"bare array", "[" + olderVersion + "," + sampleVersion + "]", []string{"2023-04", "2024-04"}},
		{"envelope", `{"versions": [` + sampleVersion + `]}`, []string{"2024-04"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			versions, err := Decode(strings.NewReader(tc.doc), zerolog.Nop())
			require.NoError(t, err)
			var ids []string
			for _, v := range versions {
				ids = append(ids, v.VersionID)
			}
			assert.Equal(t, tc.want, ids)
		})
	}
}

func TestDecode_Fields(t *testing.T) {
	versions, err := DecodeBytes([]byte(sampleVersion), zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, versions, 1)

	v := versions[0]
	assert.Equal(t, tariff.Date(2024, 4, 1), v.EffectiveFrom)
	assert.Equal(t, tariff.OpenEnded, v.EffectiveTo)
	require.Len(t, v.Summer, 3)
	require.Len(t, v.NonSummer, 2)
	assert.Equal(t, 330.0, *v.Summer[1].UpperBoundKWh)
	assert.True(t, v.Summer[2].IsOpen())
	assert.Equal(t, 2.26, v.NonSummer[1].UnitPrice)
}

func TestDecode_MissingEffectiveToIsOpenEnded(t *testing.T) {
	doc := `{"version_id": "x", "effective_from": "2024-01-01",
	  "summer": [{"unit_price": 2}], "non_summer": [{"unit_price": 2}]}`
	versions, err := DecodeBytes([]byte(doc), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, tariff.OpenEnded, versions[0].EffectiveTo)
}

func TestDecode_SkipsMalformedTiers(t *testing.T) {
	doc := `{"version_id": "2024-04", "effective_from": "2024-04-01",
	  "summer": [
	    {"upper_bound_kwh": 120, "unit_price": "1.78"},
	    {"upper_bound_kwh": 200, "unit_price": "n/a"},
	    {"upper_bound_kwh": 250, "unit_price": -1},
	    {"upper_bound_kwh": "lots", "unit_price": 2.0},
	    {"upper_bound_kwh": 100, "unit_price": 2.0},
	    {"upper_bound_kwh": 330, "unit_price": 2.55},
	    {"upper_bound_kwh": null, "unit_price": 3.80},
	    {"upper_bound_kwh": null, "unit_price": 4.00}
	  ],
	  "non_summer": [{"upper_bound_kwh": null, "unit_price": 2.26}]}`

	var logs bytes.Buffer
	versions, err := DecodeBytes([]byte(doc), zerolog.New(&logs))
	require.NoError(t, err)
	require.Len(t, versions, 1)

	summer := versions[0].Summer
	require.Len(t, summer, 3)
	assert.Equal(t, 120.0, *summer[0].UpperBoundKWh)
	assert.Equal(t, 1.78, summer[0].UnitPrice)
	assert.Equal(t, 330.0, *summer[1].UpperBoundKWh)
	assert.True(t, summer[2].IsOpen())
	assert.Equal(t, 3.80, summer[2].UnitPrice)

	assert.Equal(t, 5, strings.Count(logs.String(), "skipping malformed tier"))
}

func TestDecode_SkipsInvalidVersions(t *testing.T) {
	noOpenTier := `{"version_id": "broken", "effective_from": "2020-01-01", "effective_to": "2020-12-31",
	  "summer": [{"upper_bound_kwh": 120, "unit_price": 1.5}], "non_summer": [{"unit_price": 1.5}]}`
	badDate := `{"version_id": "bad-date", "effective_from": "2020/01/01",
	  "summer": [{"unit_price": 1.5}], "non_summer": [{"unit_price": 1.5}]}`
	noID := `{"effective_from": "2019-01-01", "summer": [{"unit_price": 1}], "non_summer": [{"unit_price": 1}]}`

	var logs bytes.Buffer
	doc := "[" + noOpenTier + "," + badDate + "," + noID + "," + sampleVersion + "]"
	versions, err := DecodeBytes([]byte(doc), zerolog.New(&logs))
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "2024-04", versions[0].VersionID)
	assert.Equal(t, 3, strings.Count(logs.String(), "skipping rate version"))
}

func TestDecode_Errors(t *testing.T) {
	_, err := DecodeBytes([]byte(`{"versions": [`), zerolog.Nop())
	assert.Error(t, err)

	_, err = DecodeBytes([]byte(`   `), zerolog.Nop())
	assert.Error(t, err)

	_, err = DecodeBytes([]byte(`"2024-04"`), zerolog.Nop())
	assert.Error(t, err)

	_, err = DecodeBytes([]byte(`{"versions": []}`), zerolog.Nop())
	assert.ErrorIs(t, err, ErrNoVersions)
}

func TestEncode_RoundTrip(t *testing.T) {
	in, err := DecodeBytes([]byte("["+olderVersion+","+sampleVersion+"]"), zerolog.Nop())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, in))
	assert.Contains(t, buf.String(), `"upper_bound_kwh": null`)
	assert.Contains(t, buf.String(), `"effective_to": "9999-12-31"`)

	out, err := Decode(&buf, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEmbedded_BuildsRegistry(t *testing.T) {
	versions, err := Embedded{Log: zerolog.Nop()}.LoadAll(context.Background())
	require.NoError(t, err)

	reg, err := tariff.NewRegistry(versions)
	require.NoError(t, err)
	assert.Equal(t, 4, reg.Len())

	v, err := reg.Resolve(tariff.Date(2024, 6, 14))
	require.NoError(t, err)
	assert.Equal(t, "2024-04", v.VersionID)

	_, maxEff := reg.Coverage()
	assert.Equal(t, tariff.OpenEnded, maxEff)
}
