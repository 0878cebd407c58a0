package cohort

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DiseaseType is the coarse diagnosis bucket that conditions sex and
// treatment draws.
type DiseaseType string

const (
	TypeCrohn DiseaseType = "Crohn"
	TypeRCH   DiseaseType = "RCH"
	TypeMICI  DiseaseType = "MICI"
)

// DiseaseTypes is the closed set of disease types.
var DiseaseTypes = []DiseaseType{TypeCrohn, TypeRCH, TypeMICI}

// Disease is a fine-grained diagnosis label.
type Disease string

const (
	CrohnIleoColic   Disease = "Crohn iléo-colique"
	CrohnColic       Disease = "Crohn colique"
	CrohnIleal       Disease = "Crohn iléal"
	RCHExtensive     Disease = "RCH extensive"
	RCHDistal        Disease = "RCH distale"
	MICIUndetermined Disease = "MICI indéterminée"
)

// Diseases is the closed set of diagnosis labels, in table order.
var Diseases = []Disease{CrohnIleoColic, CrohnColic, CrohnIleal, RCHExtensive, RCHDistal, MICIUndetermined}

var diseaseTypes = map[Disease]DiseaseType{
	CrohnIleoColic:   TypeCrohn,
	CrohnColic:       TypeCrohn,
	CrohnIleal:       TypeCrohn,
	RCHExtensive:     TypeRCH,
	RCHDistal:        TypeRCH,
	MICIUndetermined: TypeMICI,
}

// Classify returns the disease type of a diagnosis label. Unknown labels are
// an error rather than a silent fallback bucket.
func Classify(d Disease) (DiseaseType, error) {
	t, ok := diseaseTypes[d]
	if !ok {
		return "", fmt.Errorf("unknown disease %q", d)
	}
	return t, nil
}

type Sex string

const (
	SexMale   Sex = "H"
	SexFemale Sex = "F"
)

var Sexes = []Sex{SexMale, SexFemale}

type Treatment string

const (
	Infliximab   Treatment = "Infliximab"
	Adalimumab   Treatment = "Adalimumab"
	Vedolizumab  Treatment = "Vedolizumab"
	Ustekinumab  Treatment = "Ustekinumab"
	Azathioprine Treatment = "Azathioprine"
	Mesalazine   Treatment = "Mesalazine"
)

// Treatments is the closed set of treatments.
var Treatments = []Treatment{Infliximab, Adalimumab, Vedolizumab, Ustekinumab, Azathioprine, Mesalazine}

// Response is the outcome of a treatment at consultation time.
type Response string

const (
	ResponseEffective Response = "Efficace"
	ResponsePartial   Response = "Partiel"
	ResponseFailure   Response = "Échec"
	ResponseRelapse   Response = "Rechute"
)

var Responses = []Response{ResponseEffective, ResponsePartial, ResponseFailure, ResponseRelapse}

// NoSideEffect is the sentinel label of a side-effect table whose weight is
// the probability of having no side effect at all.
const NoSideEffect = "Aucun"

// Profile is the demographic and diagnostic part of a cohort record.
type Profile struct {
	ID            int         `json:"id"`
	Age           int         `json:"age"`
	Sex           Sex         `json:"sexe"`
	Disease       Disease     `json:"maladie"`
	DiseaseType   DiseaseType `json:"type_maladie"`
	DurationYears int         `json:"anciennete"`
}

// Consultation is the single consultation event attached to a profile.
type Consultation struct {
	Date        time.Time `json:"date_consultation"`
	Treatment   Treatment `json:"traitement"`
	SideEffects []string  `json:"effets_secondaires"`
	Response    Response  `json:"reponse_traitement"`
}

// Record is one row of the cohort: a profile merged with its consultation.
type Record struct {
	Profile
	Consultation
}

// Run is one generation run and the records it produced.
type Run struct {
	ID            uuid.UUID `json:"id"`
	Seed          uint64    `json:"seed"`
	ReferenceDate time.Time `json:"reference_date"`
	RecordCount   int       `json:"record_count"`
	CreatedAt     time.Time `json:"created_at"`
	Records       []Record  `json:"-"`
}
