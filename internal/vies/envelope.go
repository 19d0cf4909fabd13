package vies

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"vies-gateway/internal/models"
)

const envelopeTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:urn="urn:ec.europa.eu:taxud:vies:services:checkVat:types">
  <soapenv:Header/>
  <soapenv:Body>
    <urn:checkVat>
      <urn:countryCode>%s</urn:countryCode>
      <urn:vatNumber>%s</urn:vatNumber>
    </urn:checkVat>
  </soapenv:Body>
</soapenv:Envelope>`

// EncodeRequest fills the checkVat envelope.
func EncodeRequest(countryCode, number string) []byte {
	return []byte(fmt.Sprintf(envelopeTemplate, escape(countryCode), escape(number)))
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

type node struct {
	XMLName xml.Name
	Nodes   []node `xml:",any"`
	Text    string `xml:",chardata"`
}

func (n node) child(local string) (node, bool) {
	for _, c := range n.Nodes {
		if c.XMLName.Local == local {
			return c, true
		}
	}
	return node{}, false
}

// DecodeResponse parses a checkVatResponse envelope. Any structural problem
// yields the 502 malformed error.
func DecodeResponse(body []byte) (models.ValidationResult, error) {
	var root node
	if err := xml.Unmarshal(body, &root); err != nil {
		return models.ValidationResult{}, models.Malformed()
	}
	if root.XMLName.Local != "Envelope" {
		return models.ValidationResult{}, models.Malformed()
	}
	soapBody, ok := root.child("Body")
	if !ok {
		return models.ValidationResult{}, models.Malformed()
	}
	resp, ok := soapBody.child("checkVatResponse")
	if !ok {
		return models.ValidationResult{}, models.Malformed()
	}

	fields := make(map[string]string, len(resp.Nodes))
	for _, c := range resp.Nodes {
		if key, ok := fieldFor(c.XMLName.Local); ok {
			fields[key] = strings.TrimSpace(c.Text)
		}
	}

	var out models.ValidationResult
	for _, required := range []string{"countryCode", "vatNumber", "requestDate", "valid"} {
		if _, ok := fields[required]; !ok {
			return models.ValidationResult{}, models.Malformed()
		}
	}
	date, err := parseDate(fields["requestDate"])
	if err != nil {
		return models.ValidationResult{}, models.Malformed()
	}
	switch fields["valid"] {
	case "true":
		out.Valid = true
	case "false":
		out.Valid = false
	default:
		return models.ValidationResult{}, models.Malformed()
	}
	out.CountryCode = fields["countryCode"]
	out.VATNumber = fields["vatNumber"]
	out.RequestDate = date
	out.Name = fields["name"]
	out.Address = fields["address"]
	return out, nil
}

var knownFields = []string{"countryCode", "vatNumber", "requestDate", "valid", "name", "address"}

func fieldFor(local string) (string, bool) {
	for _, f := range knownFields {
		if strings.HasSuffix(local, f) {
			return f, true
		}
	}
	return "", false
}

// parseDate reads YYYY-MM-DD from the first ten characters, ignoring any zone suffix.
func parseDate(raw string) (string, error) {
	if len(raw) < 10 {
		return "", fmt.Errorf("short date %q", raw)
	}
	t, err := time.Parse("2006-01-02", raw[:10])
	if err != nil {
		return "", err
	}
	return t.Format("2006-01-02"), nil
}
