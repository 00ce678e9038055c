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
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/saedplatform/portal/cuil"
)

const (
	DefaultCurrency = "ARS"
	StateIssued     = "Emitido"
)

var amountPrinter = message.NewPrinter(language.MustParse("es-AR"))

type (
	Concept struct {
		Code        string          `json:"codigo,omitempty" yaml:"codigo,omitempty"`
		Description string          `json:"descripcion" yaml:"descripcion"`
		Type        string          `json:"tipo,omitempty" yaml:"tipo,omitempty"`
		Amount      decimal.Decimal `json:"importe" yaml:"importe"`
		Deduction   bool            `json:"descuento" yaml:"descuento"`
	}

	// Receipt is one salary receipt: a single position held by an employee
	// during one period.
	Receipt struct {
		ID              string           `json:"id" yaml:"id"`
		Period          Period           `json:"-" yaml:"-"`
		PeriodLabel     string           `json:"periodo" yaml:"periodo"`
		Cuil            string           `json:"cuil" yaml:"cuil"`
		Name            string           `json:"nombre,omitempty" yaml:"nombre,omitempty"`
		Position        string           `json:"cargo,omitempty" yaml:"cargo,omitempty"`
		Workplace       string           `json:"establecimiento,omitempty" yaml:"establecimiento,omitempty"`
		Amount          decimal.Decimal  `json:"importe" yaml:"importe"`
		AmountText      string           `json:"importeTexto" yaml:"importeTexto"`
		AmountInWords   string           `json:"liquidoPalabras,omitempty" yaml:"liquidoPalabras,omitempty"`
		TotalEarnings   *decimal.Decimal `json:"totalHaberes,omitempty" yaml:"totalHaberes,omitempty"`
		TotalDeductions *decimal.Decimal `json:"totalDescuentos,omitempty" yaml:"totalDescuentos,omitempty"`
		Currency        string           `json:"moneda" yaml:"moneda"`
		State           string           `json:"estado" yaml:"estado"`
		IssuedAt        time.Time        `json:"fechaEmision" yaml:"fechaEmision"`
		Concepts        []Concept        `json:"conceptos,omitempty" yaml:"conceptos,omitempty"`
		SnapshotVersion int              `json:"snapshotVersion,omitempty" yaml:"snapshotVersion,omitempty"`
	}
)

// FormatAmount renders an amount with es-AR separators and two decimals.
func FormatAmount(amount decimal.Decimal) string {
	f, _ := amount.Round(2).Float64()
	return amountPrinter.Sprintf("%.2f", f)
}

// BuildReceipts turns the document stored for period into receipts, one per
// cargo.  The first cargo keeps the bare period id.  A document naming a
// different CUIL than identity yields nothing; a document without a CUIL is
// trusted, since the object it came from was already looked up by identity.
func BuildReceipts(doc *Document, identity string, period Period, currency string) []Receipt {
	digits := cuil.Normalize(identity)
	if docDigits := cuil.Normalize(doc.Cuil.String()); docDigits != "" && docDigits != digits {
		log.WithFields(log.Fields{
			"period": period.ID(),
		}).Warning("Receipt document belongs to a different CUIL; ignoring it")
		return nil
	}
	if claimed, ok := doc.Period(); ok && claimed != period {
		log.Debugf("Receipt document stored for %s claims period %s", period, claimed)
	}
	if currency == "" {
		currency = DefaultCurrency
	}

	base := Receipt{
		PeriodLabel: period.Display(),
		Period:      period,
		Cuil:        cuil.Dashed(digits),
		Name:        doc.Nombre.String(),
		Currency:    currency,
		State:       StateIssued,
		IssuedAt:    period.IssueDate(),
	}

	total := doc.Total()
	if len(doc.Cargos) == 0 {
		r := base
		r.ID = period.ID()
		r.Amount = total
		r.TotalEarnings = doc.TotalHaberes.Ptr()
		r.TotalDeductions = doc.TotalItemsDescuentos.Ptr()
		r.AmountText = FormatAmount(r.Amount)
		return []Receipt{r}
	}

	single := len(doc.Cargos) == 1
	result := make([]Receipt, 0, len(doc.Cargos))
	for idx, cargo := range doc.Cargos {
		r := base
		r.ID = ReceiptID(period, idx)
		r.Position = cargo.Cargo.Descripcion.String()
		r.Workplace = cargo.Establecimiento.Nombre.String()
		r.AmountInWords = cargo.LiquidoPalabras.String()

		earnings := cargo.TotalItemsHaber
		deductions := cargo.TotalItemsDescuento
		switch {
		case cargo.Liquido.Set:
			r.Amount = cargo.Liquido.Value
		case single:
			r.Amount = total
		}
		if single {
			earnings = earnings.Or(doc.TotalHaberes)
			deductions = deductions.Or(doc.TotalItemsDescuentos)
		}
		r.TotalEarnings = earnings.Ptr()
		r.TotalDeductions = deductions.Ptr()
		r.AmountText = FormatAmount(r.Amount)

		for _, item := range cargo.Items {
			r.Concepts = append(r.Concepts, item.concept())
		}
		result = append(result, r)
	}
	return result
}
