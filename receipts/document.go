/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package receipts

import (
	"bytes"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrMalformedPayload is returned when a stored or downloaded payload is not
// a receipt document.
var ErrMalformedPayload = errors.New("receipt payload is not a valid document")

var amountCleaner = strings.NewReplacer("$", "", " ", "", "\u00a0", "")

type (
	// Amount is a monetary value that payroll exports write either as a JSON
	// number or as a string in invariant or es-AR notation.  An absent,
	// null or unparseable value leaves Set false.
	Amount struct {
		Value decimal.Decimal
		Set   bool
	}

	// Int is an integer written as a JSON number or a numeric string.
	Int struct {
		Value int
		Set   bool
	}

	// Text is a string that may arrive as a JSON number, as CUILs sometimes do.
	Text string

	Document struct {
		Cuil                 Text    `json:"Cuil"`
		Nombre               Text    `json:"Nombre"`
		Codigo               Text    `json:"Codigo"`
		InputFileName        Text    `json:"InputFileName"`
		TotalLiquido         Amount  `json:"TotalLiquido"`
		TotalItems           Amount  `json:"TotalItems"`
		TotalHaberes         Amount  `json:"TotalHaberes"`
		TotalItemsDescuentos Amount  `json:"TotalItemsDescuentos"`
		Cargos               []Cargo `json:"Cargos"`
	}

	Cargo struct {
		Liquido             Amount `json:"Liquido"`
		TotalItemsHaber     Amount `json:"TotalItemsHaber"`
		TotalItemsDescuento Amount `json:"TotalItemsDescuento"`
		LiquidoPalabras     Text   `json:"LiquidoPalabras"`
		Cargo               struct {
			Descripcion Text `json:"Descripcion"`
		} `json:"Cargo"`
		Establecimiento struct {
			Nombre    Text `json:"Nombre"`
			Domicilio Text `json:"Domicilio"`
			Localidad Text `json:"Localidad"`
		} `json:"Establecimiento"`
		FormaPago struct {
			Descripcion Text `json:"Descripcion"`
		} `json:"FormaPago"`
		Sueldo struct {
			Ano Int `json:"Ano"`
			Mes Int `json:"Mes"`
		} `json:"Sueldo"`
		Items []Item `json:"Items"`
	}

	Item struct {
		CodigoItem      Text   `json:"CodigoItem"`
		DescripcionItem Text   `json:"DescripcionItem"`
		TipoItem        Text   `json:"TipoItem"`
		TotalMontoItem  Amount `json:"TotalMontoItem"`
		MontoItem       Amount `json:"MontoItem"`
		EsDescuento     *bool  `json:"EsDescuento"`
		Item            *struct {
			Descripcion Text  `json:"Descripcion"`
			CodigoItem  Text  `json:"CodigoItem"`
			TipoItem    Text  `json:"TipoItem"`
			Descuento   *bool `json:"Descuento"`
		} `json:"Item"`
	}
)

// ParseAmount parses a monetary string.  Invariant notation ("182450.75",
// "182,450.75") is tried before es-AR notation ("182.450,75").  Currency
// signs and spaces are ignored.
func ParseAmount(text string) (decimal.Decimal, bool) {
	text = amountCleaner.Replace(strings.TrimSpace(text))
	if text == "" {
		return decimal.Zero, false
	}
	if d, err := decimal.NewFromString(text); err == nil {
		return d, true
	}
	lastDot := strings.LastIndex(text, ".")
	lastComma := strings.LastIndex(text, ",")
	if lastDot > lastComma {
		if d, err := decimal.NewFromString(strings.ReplaceAll(text, ",", "")); err == nil {
			return d, true
		}
		return decimal.Zero, false
	}
	normalized := strings.ReplaceAll(text, ".", "")
	normalized = strings.Replace(normalized, ",", ".", 1)
	if d, err := decimal.NewFromString(normalized); err == nil {
		return d, true
	}
	return decimal.Zero, false
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*a = Amount{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		if d, ok := ParseAmount(text); ok {
			*a = Amount{Value: d, Set: true}
		}
		return nil
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return nil
	}
	*a = Amount{Value: d, Set: true}
	return nil
}

// Or returns a when it is set and fallback otherwise.
func (a Amount) Or(fallback Amount) Amount {
	if a.Set {
		return a
	}
	return fallback
}

func (a Amount) Ptr() *decimal.Decimal {
	if !a.Set {
		return nil
	}
	v := a.Value
	return &v
}

func (i *Int) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	*i = Int{}
	n, err := strconv.Atoi(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil
	}
	*i = Int{Value: n, Set: true}
	return nil
}

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*t = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
	case data[0] == '{' || data[0] == '[':
		*t = ""
	default:
		*t = Text(data)
	}
	return nil
}

func (t Text) String() string {
	return string(t)
}

// ParseDocument decodes a receipt payload.
func ParseDocument(payload []byte) (*Document, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return nil, ErrMalformedPayload
	}
	doc := &Document{}
	if err := json.Unmarshal(payload, doc); err != nil {
		return nil, errors.Wrap(ErrMalformedPayload, err.Error())
	}
	return doc, nil
}

// Total is the document-level net amount.
func (d *Document) Total() decimal.Decimal {
	total := d.TotalLiquido.Or(d.TotalItems)
	if !total.Set && len(d.Cargos) > 0 {
		total = d.Cargos[0].Liquido
	}
	return total.Value
}

// Period resolves the period the document claims to cover, from the input
// file name first and the first cargo's salary date second.
func (d *Document) Period() (Period, bool) {
	if p, ok := FindPeriod(d.InputFileName.String()); ok {
		return p, true
	}
	if len(d.Cargos) > 0 {
		sueldo := d.Cargos[0].Sueldo
		if sueldo.Ano.Set && sueldo.Mes.Value >= 1 && sueldo.Mes.Value <= 12 {
			return Period{Year: sueldo.Ano.Value, Month: sueldo.Mes.Value}, true
		}
	}
	return Period{}, false
}

func (it Item) concept() Concept {
	c := Concept{
		Code:        it.CodigoItem.String(),
		Description: it.DescripcionItem.String(),
		Type:        it.TipoItem.String(),
		Amount:      it.TotalMontoItem.Or(it.MontoItem).Value,
	}
	if it.EsDescuento != nil {
		c.Deduction = *it.EsDescuento
	}
	if it.Item != nil {
		if c.Description == "" {
			c.Description = it.Item.Descripcion.String()
		}
		if c.Code == "" {
			c.Code = it.Item.CodigoItem.String()
		}
		if c.Type == "" {
			c.Type = it.Item.TipoItem.String()
		}
		if it.EsDescuento == nil && it.Item.Descuento != nil {
			c.Deduction = *it.Item.Descuento
		}
	}
	if c.Description == "" {
		c.Description = "Concepto"
	}
	return c
}
