// Package formulary holds the drug catalog the optimizer draws candidate
// treatment components from: medication classes, efficacy priors, costs,
// weight-adjusted dose ranges, biomarker association tags, and known
// drug-drug interactions.
package formulary

import (
	"fmt"
	"sort"

	"github.com/crohns-treatment-optimizer/internal/domain"
)

// MedicationClass groups drugs by mechanism.
type MedicationClass string

const (
	JAK_INHIBITOR   MedicationClass = "JAK_INHIBITOR"
	IL23_INHIBITOR  MedicationClass = "IL23_INHIBITOR"
	TNF_INHIBITOR   MedicationClass = "TNF_INHIBITOR"
	IMMUNOMODULATOR MedicationClass = "IMMUNOMODULATOR"
	CORTICOSTEROID  MedicationClass = "CORTICOSTEROID"
	AMINOSALICYLATE MedicationClass = "AMINOSALICYLATE"
)

// DoseRange is the allowed dosage interval for a drug, in its unit, for a
// standard-weight adult. SafeDoseRange scales it by weight band.
type DoseRange struct {
	Min float64
	Max float64
}

// Drug is one formulary entry.
type Drug struct {
	Name          string
	Class         MedicationClass
	EfficacyPrior float64
	MonthlyCost   float64
	Unit          domain.DosageUnit
	Dose          DoseRange
	Frequencies   []domain.Frequency
	// BiomarkerTags maps marker identifiers to signed association weights;
	// the efficacy sub-score adds tag·influence for each tagged marker.
	BiomarkerTags map[string]float64
	Subtypes      []domain.DiseaseSubtype
	DurationDays  int
}

// Formulary is an immutable drug catalog.
type Formulary struct {
	drugs map[string]Drug
	// interactions maps an unordered drug pair key to a risk weight.
	interactions map[string]float64
}

// New builds a formulary from explicit entries and interaction pairs.
func New(drugs []Drug, interactions []Interaction) (*Formulary, error) {
	f := &Formulary{
		drugs:        make(map[string]Drug, len(drugs)),
		interactions: make(map[string]float64, len(interactions)),
	}
	for _, d := range drugs {
		if d.Name == "" {
			return nil, fmt.Errorf("formulary: drug with empty name")
		}
		if d.Dose.Min <= 0 || d.Dose.Max < d.Dose.Min {
			return nil, fmt.Errorf("formulary: invalid dose range for %s", d.Name)
		}
		if len(d.Frequencies) == 0 {
			return nil, fmt.Errorf("formulary: drug %s has no allowed frequencies", d.Name)
		}
		if _, dup := f.drugs[d.Name]; dup {
			return nil, fmt.Errorf("formulary: duplicate drug %s", d.Name)
		}
		f.drugs[d.Name] = d
	}
	for _, ix := range interactions {
		if _, err := f.Drug(ix.DrugA); err != nil {
			return nil, fmt.Errorf("formulary: interaction references %s: %w", ix.DrugA, err)
		}
		if _, err := f.Drug(ix.DrugB); err != nil {
			return nil, fmt.Errorf("formulary: interaction references %s: %w", ix.DrugB, err)
		}
		f.interactions[pairKey(ix.DrugA, ix.DrugB)] = ix.Risk
	}
	return f, nil
}

// Interaction is a known drug-drug interaction with a risk weight in (0,1].
type Interaction struct {
	DrugA string
	DrugB string
	Risk  float64
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Drug looks up a formulary entry by name.
func (f *Formulary) Drug(name string) (Drug, error) {
	d, ok := f.drugs[name]
	if !ok {
		return Drug{}, fmt.Errorf("%s: %w", name, domain.ErrUnknownDrug)
	}
	return d, nil
}

// Names returns all drug names in deterministic order.
func (f *Formulary) Names() []string {
	out := make([]string, 0, len(f.drugs))
	for name := range f.drugs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IndicatedFor returns the drugs indicated for a disease subtype, excluding
// any the patient is allergic to, in deterministic order.
func (f *Formulary) IndicatedFor(subtype domain.DiseaseSubtype, allergies []string) []Drug {
	allergic := make(map[string]struct{}, len(allergies))
	for _, a := range allergies {
		allergic[a] = struct{}{}
	}
	var out []Drug
	for _, name := range f.Names() {
		d := f.drugs[name]
		if _, skip := allergic[d.Name]; skip {
			continue
		}
		for _, s := range d.Subtypes {
			if s == subtype {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// InteractionRisk returns the risk weight for a drug pair, zero when the
// pair has no known interaction.
func (f *Formulary) InteractionRisk(a, b string) float64 {
	return f.interactions[pairKey(a, b)]
}

// SafeDoseRange returns the allowed dose interval adjusted for the
// patient's weight band: below 50 kg the ceiling drops to 75%, above 100 kg
// the floor rises to 125% of the minimum.
func (f *Formulary) SafeDoseRange(name string, weightKg float64) (DoseRange, error) {
	d, err := f.Drug(name)
	if err != nil {
		return DoseRange{}, err
	}
	r := d.Dose
	switch {
	case weightKg < 50:
		r.Max = r.Min + (r.Max-r.Min)*0.75
	case weightKg > 100:
		r.Min = r.Min * 1.25
		if r.Min > r.Max {
			r.Min = r.Max
		}
	}
	return r, nil
}

// Default returns the built-in Crohn's disease formulary.
func Default() *Formulary {
	all := []domain.DiseaseSubtype{domain.ILEAL, domain.COLONIC, domain.ILEOCOLONIC, domain.PERIANAL}
	drugs := []Drug{
		{
			Name: "Upadacitinib", Class: JAK_INHIBITOR, EfficacyPrior: 0.68, MonthlyCost: 5200,
			Unit: domain.MG, Dose: DoseRange{Min: 15, Max: 45},
			Frequencies:   []domain.Frequency{domain.DAILY},
			BiomarkerTags: map[string]float64{"JAK2": 0.5, "NOD2": 0.35, "TNF": 0.2},
			Subtypes:      all, DurationDays: 90,
		},
		{
			Name: "Tofacitinib", Class: JAK_INHIBITOR, EfficacyPrior: 0.58, MonthlyCost: 4600,
			Unit: domain.MG, Dose: DoseRange{Min: 5, Max: 10},
			Frequencies:   []domain.Frequency{domain.BID},
			BiomarkerTags: map[string]float64{"JAK2": 0.45, "STAT3": 0.3},
			Subtypes:      []domain.DiseaseSubtype{domain.COLONIC, domain.ILEOCOLONIC}, DurationDays: 90,
		},
		{
			Name: "Risankizumab", Class: IL23_INHIBITOR, EfficacyPrior: 0.66, MonthlyCost: 6800,
			Unit: domain.MG, Dose: DoseRange{Min: 180, Max: 600},
			Frequencies:   []domain.Frequency{domain.MONTHLY, domain.BIWEEKLY},
			BiomarkerTags: map[string]float64{"IL23R": 0.6, "IL10": 0.2},
			Subtypes:      all, DurationDays: 112,
		},
		{
			Name: "Ustekinumab", Class: IL23_INHIBITOR, EfficacyPrior: 0.62, MonthlyCost: 6200,
			Unit: domain.MG, Dose: DoseRange{Min: 90, Max: 390},
			Frequencies:   []domain.Frequency{domain.MONTHLY},
			BiomarkerTags: map[string]float64{"IL23R": 0.5, "IL10": 0.25},
			Subtypes:      all, DurationDays: 112,
		},
		{
			Name: "Adalimumab", Class: TNF_INHIBITOR, EfficacyPrior: 0.60, MonthlyCost: 3800,
			Unit: domain.MG, Dose: DoseRange{Min: 40, Max: 80},
			Frequencies:   []domain.Frequency{domain.BIWEEKLY, domain.WEEKLY},
			BiomarkerTags: map[string]float64{"TNF": 0.55, "NOD2": 0.25},
			Subtypes:      all, DurationDays: 90,
		},
		{
			Name: "Infliximab", Class: TNF_INHIBITOR, EfficacyPrior: 0.63, MonthlyCost: 4200,
			Unit: domain.MG, Dose: DoseRange{Min: 200, Max: 600},
			Frequencies:   []domain.Frequency{domain.MONTHLY},
			BiomarkerTags: map[string]float64{"TNF": 0.6, "NOD2": 0.3, "ATG16L1": 0.2},
			Subtypes:      []domain.DiseaseSubtype{domain.ILEAL, domain.ILEOCOLONIC, domain.PERIANAL}, DurationDays: 112,
		},
		{
			Name: "Vedolizumab", Class: TNF_INHIBITOR, EfficacyPrior: 0.55, MonthlyCost: 5400,
			Unit: domain.MG, Dose: DoseRange{Min: 300, Max: 300},
			Frequencies:   []domain.Frequency{domain.MONTHLY},
			BiomarkerTags: map[string]float64{"IRGM": 0.3},
			Subtypes:      []domain.DiseaseSubtype{domain.COLONIC, domain.ILEOCOLONIC}, DurationDays: 112,
		},
		{
			Name: "Azathioprine", Class: IMMUNOMODULATOR, EfficacyPrior: 0.45, MonthlyCost: 120,
			Unit: domain.MG, Dose: DoseRange{Min: 50, Max: 200},
			Frequencies:   []domain.Frequency{domain.DAILY},
			BiomarkerTags: map[string]float64{"ATG16L1": 0.25, "LRRK2": 0.15},
			Subtypes:      all, DurationDays: 180,
		},
		{
			Name: "Methotrexate", Class: IMMUNOMODULATOR, EfficacyPrior: 0.42, MonthlyCost: 95,
			Unit: domain.MG, Dose: DoseRange{Min: 15, Max: 25},
			Frequencies:   []domain.Frequency{domain.WEEKLY},
			BiomarkerTags: map[string]float64{"LRRK2": 0.2},
			Subtypes:      []domain.DiseaseSubtype{domain.ILEAL, domain.COLONIC, domain.ILEOCOLONIC}, DurationDays: 180,
		},
		{
			Name: "Prednisone", Class: CORTICOSTEROID, EfficacyPrior: 0.50, MonthlyCost: 40,
			Unit: domain.MG, Dose: DoseRange{Min: 5, Max: 40},
			Frequencies:   []domain.Frequency{domain.DAILY},
			BiomarkerTags: map[string]float64{},
			Subtypes:      all, DurationDays: 30,
		},
		{
			Name: "Budesonide", Class: CORTICOSTEROID, EfficacyPrior: 0.48, MonthlyCost: 310,
			Unit: domain.MG, Dose: DoseRange{Min: 3, Max: 9},
			Frequencies:   []domain.Frequency{domain.DAILY},
			BiomarkerTags: map[string]float64{},
			Subtypes:      []domain.DiseaseSubtype{domain.ILEAL, domain.ILEOCOLONIC}, DurationDays: 56,
		},
		{
			Name: "Mesalamine", Class: AMINOSALICYLATE, EfficacyPrior: 0.35, MonthlyCost: 220,
			Unit: domain.MG, Dose: DoseRange{Min: 1200, Max: 4800},
			Frequencies:   []domain.Frequency{domain.DAILY, domain.BID, domain.TID},
			BiomarkerTags: map[string]float64{},
			Subtypes:      []domain.DiseaseSubtype{domain.COLONIC, domain.ILEOCOLONIC}, DurationDays: 180,
		},
	}
	interactions := []Interaction{
		// Combining systemic immunosuppression carries infection risk.
		{DrugA: "Upadacitinib", DrugB: "Tofacitinib", Risk: 0.9},
		{DrugA: "Upadacitinib", DrugB: "Infliximab", Risk: 0.6},
		{DrugA: "Upadacitinib", DrugB: "Adalimumab", Risk: 0.6},
		{DrugA: "Tofacitinib", DrugB: "Infliximab", Risk: 0.6},
		{DrugA: "Tofacitinib", DrugB: "Adalimumab", Risk: 0.6},
		{DrugA: "Azathioprine", DrugB: "Methotrexate", Risk: 0.5},
		{DrugA: "Infliximab", DrugB: "Adalimumab", Risk: 0.8},
		{DrugA: "Prednisone", DrugB: "Budesonide", Risk: 0.7},
	}
	f, err := New(drugs, interactions)
	if err != nil {
		// The built-in catalog is static; a construction failure is a
		// programming error.
		panic(err)
	}
	return f
}
