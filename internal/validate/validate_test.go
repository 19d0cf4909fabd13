package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"vies-gateway/internal/models"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "SE502070882101", Normalize(" se 5020 7088 2101 "))
	assert.Equal(t, "GB0000000", Normalize("gb0000000"))
}

func TestCheck(t *testing.T) {
	cases := []struct {
		name     string
		vat      string
		mode     models.Mode
		callback string
		wantMsg  string
	}{
		{name: "valid sync", vat: "SE502070882101", mode: models.ModeSync},
		{name: "valid short", vat: "GB0000000", mode: models.ModeSync},
		{name: "dash", vat: "SE5020-70882101", mode: models.ModeSync, wantMsg: models.MsgInvalidCharacters},
		{name: "dot", vat: "DE.12345678", mode: models.ModeSync, wantMsg: models.MsgInvalidCharacters},
		{name: "non ascii letter", vat: "DEÄ12345678", mode: models.ModeSync, wantMsg: models.MsgInvalidCharacters},
		{name: "characters checked before length", vat: "S!", mode: models.ModeSync, wantMsg: models.MsgInvalidCharacters},
		{name: "too short", vat: "SE1234", mode: models.ModeSync, wantMsg: models.MsgInvalidLength},
		{name: "too long", vat: "SE1234567890123456789", mode: models.ModeSync, wantMsg: models.MsgInvalidLength},
		{name: "max length", vat: "SE123456789012345678", mode: models.ModeSync},
		{name: "unknown country", vat: "US123456789", mode: models.ModeSync, wantMsg: models.MsgInvalidCountry},
		{name: "greece uses EL", vat: "GR123456789", mode: models.ModeSync, wantMsg: models.MsgInvalidCountry},
		{name: "async http callback", vat: "SE502070882101", mode: models.ModeAsync, callback: "http://host/path"},
		{name: "async https callback", vat: "SE502070882101", mode: models.ModeAsync, callback: "https://example.com/hook?x=1"},
		{name: "async empty callback", vat: "SE502070882101", mode: models.ModeAsync, wantMsg: models.MsgInvalidCallback},
		{name: "async relative callback", vat: "SE502070882101", mode: models.ModeAsync, callback: "/hook", wantMsg: models.MsgInvalidCallback},
		{name: "async ftp callback", vat: "SE502070882101", mode: models.ModeAsync, callback: "ftp://host/file", wantMsg: models.MsgInvalidCallback},
		{name: "async garbage callback", vat: "SE502070882101", mode: models.ModeAsync, callback: "not a url", wantMsg: models.MsgInvalidCallback},
		{name: "sync ignores callback", vat: "SE502070882101", mode: models.ModeSync, callback: "not a url"},
		{name: "country checked before callback", vat: "XX502070882101", mode: models.ModeAsync, wantMsg: models.MsgInvalidCountry},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Check(tc.vat, tc.mode, tc.callback)
			if tc.wantMsg == "" {
				assert.Nil(t, got)
				return
			}
			if assert.NotNil(t, got) {
				assert.Equal(t, 400, got.Code)
				assert.Equal(t, tc.wantMsg, got.Message)
			}
		})
	}
}

func TestCheckRejectsEveryNonAlphanumeric(t *testing.T) {
	for _, r := range " !\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~\t" {
		vat := "SE5020" + string(r) + "70882101"
		got := Check(vat, models.ModeSync, "")
		if assert.NotNil(t, got, "char %q", r) {
			assert.Equal(t, models.MsgInvalidCharacters, got.Message)
		}
	}
}

func TestCountryCodes(t *testing.T) {
	assert.Len(t, CountryCodes, 28)
	for _, cc := range CountryCodes {
		assert.Nil(t, Check(cc+"1234567", models.ModeSync, ""), cc)
	}
}

func TestSplit(t *testing.T) {
	cc, n := Split("SE502070882101")
	assert.Equal(t, "SE", cc)
	assert.Equal(t, "502070882101", n)
}
