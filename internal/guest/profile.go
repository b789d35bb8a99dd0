package guest

import (
	"strings"
	"unicode/utf8"
)

type Status string

const (
	StatusNew       Status = "NEW"
	StatusContacted Status = "CONTACTED"
	StatusConverted Status = "CONVERTED"
)

// additionalNotesMaxRunes is a soft cap on free-form note growth so repeated
// profile extractions can't inflate the CRM record without bound.
const additionalNotesMaxRunes = 100

// Profile is the guest's structured lead record. CRM fields are owned by the
// remote record; SessionCount and QuestionsAsked are owned by the local cache
// and never pushed upstream.
type Profile struct {
	ID              string   `json:"id"`
	Name            string   `json:"name,omitempty"`
	Company         string   `json:"company,omitempty"`
	Industry        string   `json:"industry,omitempty"`
	ProjectTypes    []string `json:"project_types"`
	Budget          string   `json:"budget,omitempty"`
	Timeline        string   `json:"timeline,omitempty"`
	ContactInfo     string   `json:"contact_info,omitempty"`
	PainPoints      []string `json:"pain_points"`
	CurrentTech     []string `json:"current_tech"`
	AdditionalNotes string   `json:"additional_notes,omitempty"`
	Status          Status   `json:"status"`

	SessionCount   int      `json:"session_count"`
	QuestionsAsked []string `json:"questions_asked"`
}

// NewProfile returns a fresh profile for a first-time guest.
func NewProfile(id string) Profile {
	return Profile{
		ID:             id,
		ProjectTypes:   []string{},
		PainPoints:     []string{},
		CurrentTech:    []string{},
		Status:         StatusNew,
		SessionCount:   1,
		QuestionsAsked: []string{},
	}
}

// Update is a partial profile: only non-nil fields overwrite.
type Update struct {
	Name            *string  `json:"name,omitempty"`
	Company         *string  `json:"company,omitempty"`
	Industry        *string  `json:"industry,omitempty"`
	ProjectTypes    []string `json:"project_types,omitempty"`
	Budget          *string  `json:"budget,omitempty"`
	Timeline        *string  `json:"timeline,omitempty"`
	ContactInfo     *string  `json:"contact_info,omitempty"`
	PainPoints      []string `json:"pain_points,omitempty"`
	CurrentTech     []string `json:"current_tech,omitempty"`
	AdditionalNotes *string  `json:"additional_notes,omitempty"`
	Status          *Status  `json:"status,omitempty"`
}

// IsZero reports whether the update carries no fields at all.
func (u Update) IsZero() bool {
	return u.Name == nil && u.Company == nil && u.Industry == nil &&
		u.ProjectTypes == nil && u.Budget == nil && u.Timeline == nil &&
		u.ContactInfo == nil && u.PainPoints == nil && u.CurrentTech == nil &&
		u.AdditionalNotes == nil && u.Status == nil
}

// Apply overwrites the fields present in the update and returns the result.
func (p Profile) Apply(u Update) Profile {
	if u.Name != nil {
		p.Name = strings.TrimSpace(*u.Name)
	}
	if u.Company != nil {
		p.Company = strings.TrimSpace(*u.Company)
	}
	if u.Industry != nil {
		p.Industry = strings.TrimSpace(*u.Industry)
	}
	if u.ProjectTypes != nil {
		p.ProjectTypes = append([]string(nil), u.ProjectTypes...)
	}
	if u.Budget != nil {
		p.Budget = strings.TrimSpace(*u.Budget)
	}
	if u.Timeline != nil {
		p.Timeline = strings.TrimSpace(*u.Timeline)
	}
	if u.ContactInfo != nil {
		p.ContactInfo = strings.TrimSpace(*u.ContactInfo)
	}
	if u.PainPoints != nil {
		p.PainPoints = append([]string(nil), u.PainPoints...)
	}
	if u.CurrentTech != nil {
		p.CurrentTech = append([]string(nil), u.CurrentTech...)
	}
	if u.AdditionalNotes != nil {
		p.AdditionalNotes = capRunes(strings.TrimSpace(*u.AdditionalNotes), additionalNotesMaxRunes)
	}
	if u.Status != nil {
		p.Status = *u.Status
	}
	return p
}

// mergeRemoteLocal reconciles the remote record with the local cache. The
// field-ownership table: every CRM field comes from remote; SessionCount and
// QuestionsAsked come from local. The caller increments SessionCount for the
// new session.
func mergeRemoteLocal(remote, local Profile) Profile {
	merged := remote
	merged.SessionCount = local.SessionCount
	merged.QuestionsAsked = local.QuestionsAsked
	if merged.QuestionsAsked == nil {
		merged.QuestionsAsked = []string{}
	}
	if merged.ProjectTypes == nil {
		merged.ProjectTypes = []string{}
	}
	if merged.PainPoints == nil {
		merged.PainPoints = []string{}
	}
	if merged.CurrentTech == nil {
		merged.CurrentTech = []string{}
	}
	if merged.Status == "" {
		merged.Status = StatusNew
	}
	return merged
}

// RecordQuestion appends a question once; repeats are membership-checked, not
// set-deduplicated, so order is preserved.
func (p *Profile) RecordQuestion(question string) bool {
	question = strings.TrimSpace(question)
	if question == "" {
		return false
	}
	for _, q := range p.QuestionsAsked {
		if q == question {
			return false
		}
	}
	p.QuestionsAsked = append(p.QuestionsAsked, question)
	return true
}

func capRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
