package models

import (
	"encoding/json"
	"fmt"
)

// DefaultSchemaURI identifies the profile schema version documents conform to.
const DefaultSchemaURI = "https://person-api.sso.mozilla.com/schema/v2/profile"

// Profile is the fixed attribute tree of one person. Groups are typed
// sub-structs; the JSON shape matches the published profile schema.
type Profile struct {
	UserID          Attribute `json:"user_id"`
	UUID            Attribute `json:"uuid"`
	PrimaryEmail    Attribute `json:"primary_email"`
	PrimaryUsername Attribute `json:"primary_username"`
	LoginMethod     Attribute `json:"login_method"`
	Active          Attribute `json:"active"`
	Created         Attribute `json:"created"`
	LastModified    Attribute `json:"last_modified"`

	FirstName       Attribute `json:"first_name"`
	LastName        Attribute `json:"last_name"`
	AlternativeName Attribute `json:"alternative_name"`
	FunTitle        Attribute `json:"fun_title"`
	Description     Attribute `json:"description"`
	Location        Attribute `json:"location"`
	Timezone        Attribute `json:"timezone"`
	Pronouns        Attribute `json:"pronouns"`
	Picture         Attribute `json:"picture"`

	Usernames     Attribute `json:"usernames"`
	SSHPublicKeys Attribute `json:"ssh_public_keys"`
	PGPPublicKeys Attribute `json:"pgp_public_keys"`
	Languages     Attribute `json:"languages"`
	Tags          Attribute `json:"tags"`
	URIs          Attribute `json:"uris"`
	PhoneNumbers  Attribute `json:"phone_numbers"`

	AccessInformation AccessInformation `json:"access_information"`
	Identities        Identities        `json:"identities"`
	StaffInformation  StaffInformation  `json:"staff_information"`

	Schema string `json:"schema"`
}

// AccessInformation holds group memberships, one attribute per source.
type AccessInformation struct {
	LDAP           Attribute `json:"ldap"`
	HRIS           Attribute `json:"hris"`
	Mozilliansorg  Attribute `json:"mozilliansorg"`
	AccessProvider Attribute `json:"access_provider"`
}

// Identities holds the account identifiers linked to the profile.
type Identities struct {
	GithubIDV3                     Attribute `json:"github_id_v3"`
	GithubIDV4                     Attribute `json:"github_id_v4"`
	GithubPrimaryEmail             Attribute `json:"github_primary_email"`
	MozilliansorgID                Attribute `json:"mozilliansorg_id"`
	BugzillaMozillaComID           Attribute `json:"bugzilla_mozilla_com_id"`
	BugzillaMozillaComPrimaryEmail Attribute `json:"bugzilla_mozilla_com_primary_email"`
	MozillaLDAPID                  Attribute `json:"mozilla_ldap_id"`
	MozillaLDAPPrimaryEmail        Attribute `json:"mozilla_ldap_primary_email"`
	MozillaPOSIXID                 Attribute `json:"mozilla_posix_id"`
	GoogleOauth2ID                 Attribute `json:"google_oauth2_id"`
	GooglePrimaryEmail             Attribute `json:"google_primary_email"`
	FirefoxAccountsID              Attribute `json:"firefox_accounts_id"`
	FirefoxAccountsPrimaryEmail    Attribute `json:"firefox_accounts_primary_email"`
	Custom1PrimaryEmail            Attribute `json:"custom_1_primary_email"`
	Custom2PrimaryEmail            Attribute `json:"custom_2_primary_email"`
	Custom3PrimaryEmail            Attribute `json:"custom_3_primary_email"`
}

// StaffInformation holds HR-sourced employment details.
type StaffInformation struct {
	Manager        Attribute `json:"manager"`
	Director       Attribute `json:"director"`
	Staff          Attribute `json:"staff"`
	Title          Attribute `json:"title"`
	Team           Attribute `json:"team"`
	CostCenter     Attribute `json:"cost_center"`
	WorkerType     Attribute `json:"worker_type"`
	WPRDeskNumber  Attribute `json:"wpr_desk_number"`
	OfficeLocation Attribute `json:"office_location"`
}

// Field pairs an attribute path with the attribute it names.
type Field struct {
	Path      string
	Attribute *Attribute
}

// Attributes lists every attribute in a fixed, deterministic order: the order
// of the published schema. Nested attributes use dotted paths.
func (p *Profile) Attributes() []Field {
	return []Field{
		{"user_id", &p.UserID},
		{"uuid", &p.UUID},
		{"primary_email", &p.PrimaryEmail},
		{"primary_username", &p.PrimaryUsername},
		{"login_method", &p.LoginMethod},
		{"active", &p.Active},
		{"created", &p.Created},
		{"last_modified", &p.LastModified},
		{"first_name", &p.FirstName},
		{"last_name", &p.LastName},
		{"alternative_name", &p.AlternativeName},
		{"fun_title", &p.FunTitle},
		{"description", &p.Description},
		{"location", &p.Location},
		{"timezone", &p.Timezone},
		{"pronouns", &p.Pronouns},
		{"picture", &p.Picture},
		{"usernames", &p.Usernames},
		{"ssh_public_keys", &p.SSHPublicKeys},
		{"pgp_public_keys", &p.PGPPublicKeys},
		{"languages", &p.Languages},
		{"tags", &p.Tags},
		{"uris", &p.URIs},
		{"phone_numbers", &p.PhoneNumbers},
		{"access_information.ldap", &p.AccessInformation.LDAP},
		{"access_information.hris", &p.AccessInformation.HRIS},
		{"access_information.mozilliansorg", &p.AccessInformation.Mozilliansorg},
		{"access_information.access_provider", &p.AccessInformation.AccessProvider},
		{"identities.github_id_v3", &p.Identities.GithubIDV3},
		{"identities.github_id_v4", &p.Identities.GithubIDV4},
		{"identities.github_primary_email", &p.Identities.GithubPrimaryEmail},
		{"identities.mozilliansorg_id", &p.Identities.MozilliansorgID},
		{"identities.bugzilla_mozilla_com_id", &p.Identities.BugzillaMozillaComID},
		{"identities.bugzilla_mozilla_com_primary_email", &p.Identities.BugzillaMozillaComPrimaryEmail},
		{"identities.mozilla_ldap_id", &p.Identities.MozillaLDAPID},
		{"identities.mozilla_ldap_primary_email", &p.Identities.MozillaLDAPPrimaryEmail},
		{"identities.mozilla_posix_id", &p.Identities.MozillaPOSIXID},
		{"identities.google_oauth2_id", &p.Identities.GoogleOauth2ID},
		{"identities.google_primary_email", &p.Identities.GooglePrimaryEmail},
		{"identities.firefox_accounts_id", &p.Identities.FirefoxAccountsID},
		{"identities.firefox_accounts_primary_email", &p.Identities.FirefoxAccountsPrimaryEmail},
		{"identities.custom_1_primary_email", &p.Identities.Custom1PrimaryEmail},
		{"identities.custom_2_primary_email", &p.Identities.Custom2PrimaryEmail},
		{"identities.custom_3_primary_email", &p.Identities.Custom3PrimaryEmail},
		{"staff_information.manager", &p.StaffInformation.Manager},
		{"staff_information.director", &p.StaffInformation.Director},
		{"staff_information.staff", &p.StaffInformation.Staff},
		{"staff_information.title", &p.StaffInformation.Title},
		{"staff_information.team", &p.StaffInformation.Team},
		{"staff_information.cost_center", &p.StaffInformation.CostCenter},
		{"staff_information.worker_type", &p.StaffInformation.WorkerType},
		{"staff_information.wpr_desk_number", &p.StaffInformation.WPRDeskNumber},
		{"staff_information.office_location", &p.StaffInformation.OfficeLocation},
	}
}

// Attribute returns the attribute at a dotted path.
func (p *Profile) Attribute(path string) (*Attribute, error) {
	for _, f := range p.Attributes() {
		if f.Path == path {
			return f.Attribute, nil
		}
	}
	return nil, fmt.Errorf("unknown attribute %q", path)
}

// New returns the default profile: every attribute present with a null payload
// and its schema-default metadata.
func New() *Profile {
	p := &Profile{Schema: DefaultSchemaURI}
	for _, f := range p.Attributes() {
		d := defaults[f.Path]
		meta := Metadata{Classification: d.classification, Display: d.display}
		if d.shape == ShapeValues {
			*f.Attribute = NewValuesAttribute(meta)
		} else {
			*f.Attribute = NewValueAttribute(meta)
		}
	}
	return p
}

// Parse overlays a (possibly partial) profile document onto the default
// profile. Attributes absent from the document keep their defaults.
func Parse(data []byte) (*Profile, error) {
	p := New()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	for _, f := range p.Attributes() {
		if want := defaults[f.Path].shape; f.Attribute.Shape() != want {
			return nil, fmt.Errorf("parse profile: attribute %s must carry %q", f.Path, want)
		}
	}
	return p, nil
}

// JSON encodes the profile in its wire shape.
func (p *Profile) JSON() ([]byte, error) {
	return json.Marshal(p)
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	out := *p
	src := p.Attributes()
	for i, f := range out.Attributes() {
		*f.Attribute = src[i].Attribute.Clone()
	}
	return &out
}

// UserIDValue returns the profile's user_id.
func (p *Profile) UserIDValue() string {
	return p.UserID.StringValue()
}

// Equal reports whether two profiles encode identically.
func (p *Profile) Equal(other *Profile) bool {
	a, errA := p.JSON()
	b, errB := other.JSON()
	return errA == nil && errB == nil && string(a) == string(b)
}

type attrDefault struct {
	shape          Shape
	classification Classification
	display        Display
}

var (
	publicValue  = attrDefault{ShapeValue, ClassificationPublic, DisplayPublic}
	publicValues = attrDefault{ShapeValues, ClassificationPublic, DisplayPublic}
	staffValue   = attrDefault{ShapeValue, ClassificationStaffOnly, DisplayStaff}
	staffValues  = attrDefault{ShapeValues, ClassificationStaffOnly, DisplayStaff}
	confValue    = attrDefault{ShapeValue, ClassificationMozillaConfidential, DisplayNull}
	privateValue = attrDefault{ShapeValue, ClassificationIndividualConfidential, DisplayPrivate}
)

var defaults = map[string]attrDefault{
	"user_id":          publicValue,
	"uuid":             publicValue,
	"primary_email":    confValue,
	"primary_username": publicValue,
	"login_method":     confValue,
	"active":           publicValue,
	"created":          publicValue,
	"last_modified":    publicValue,
	"first_name":       publicValue,
	"last_name":        publicValue,
	"alternative_name": publicValue,
	"fun_title":        publicValue,
	"description":      publicValue,
	"location":         publicValue,
	"timezone":         publicValue,
	"pronouns":         publicValue,
	"picture":          publicValue,
	"usernames":        publicValues,
	"ssh_public_keys":  publicValues,
	"pgp_public_keys":  publicValues,
	"languages":        publicValues,
	"tags":             publicValues,
	"uris":             publicValues,
	"phone_numbers":    {ShapeValues, ClassificationIndividualConfidential, DisplayPrivate},

	"access_information.ldap":            staffValues,
	"access_information.hris":            staffValues,
	"access_information.mozilliansorg":   publicValues,
	"access_information.access_provider": staffValues,

	"identities.github_id_v3":                       publicValue,
	"identities.github_id_v4":                       publicValue,
	"identities.github_primary_email":               privateValue,
	"identities.mozilliansorg_id":                   publicValue,
	"identities.bugzilla_mozilla_com_id":            publicValue,
	"identities.bugzilla_mozilla_com_primary_email": privateValue,
	"identities.mozilla_ldap_id":                    staffValue,
	"identities.mozilla_ldap_primary_email":         staffValue,
	"identities.mozilla_posix_id":                   staffValue,
	"identities.google_oauth2_id":                   privateValue,
	"identities.google_primary_email":               privateValue,
	"identities.firefox_accounts_id":                privateValue,
	"identities.firefox_accounts_primary_email":     privateValue,
	"identities.custom_1_primary_email":             privateValue,
	"identities.custom_2_primary_email":             privateValue,
	"identities.custom_3_primary_email":             privateValue,

	"staff_information.manager":         staffValue,
	"staff_information.director":        staffValue,
	"staff_information.staff":           staffValue,
	"staff_information.title":           staffValue,
	"staff_information.team":            staffValue,
	"staff_information.cost_center":     staffValue,
	"staff_information.worker_type":     staffValue,
	"staff_information.wpr_desk_number": staffValue,
	"staff_information.office_location": staffValue,
}
