// ABOUTME: Wire types and canonicalization for the CRM API
// ABOUTME: Decodes flexible upstream field shapes into canonical records
package source

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/liveport/crmsync/errs"
	"github.com/liveport/crmsync/models"
)

const sourceTimeLayout = "2006-01-02 15:04:05"

// envelope is the CRM list-response wrapper.
type envelope struct {
	Success        bool              `json:"success"`
	Data           []json.RawMessage `json:"data"`
	AdditionalData struct {
		Pagination struct {
			MoreItemsInCollection bool `json:"more_items_in_collection"`
			NextStart             int  `json:"next_start"`
			TotalCount            int  `json:"total_count"`
		} `json:"pagination"`
	} `json:"additional_data"`
}

// flexString accepts a JSON string or number. The CRM returns label codes as
// numbers for old records and names for records touched since the label
// rework.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}

	return fmt.Errorf("value %s is neither string nor number", data)
}

// flexContactValue accepts a bare string or the CRM's newer
// [{"value": ..., "primary": true}] array shape, preferring the primary
// entry.
type flexContactValue string

func (f *flexContactValue) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexContactValue(s)
		return nil
	}

	var entries []struct {
		Value   string `json:"value"`
		Primary bool   `json:"primary"`
	}
	if err := json.Unmarshal(data, &entries); err == nil {
		for _, e := range entries {
			if e.Primary && e.Value != "" {
				*f = flexContactValue(e.Value)
				return nil
			}
		}
		for _, e := range entries {
			if e.Value != "" {
				*f = flexContactValue(e.Value)
				return nil
			}
		}
		*f = ""
		return nil
	}

	return fmt.Errorf("value %s is neither string nor value list", data)
}

// flexRef accepts a bare numeric ID or the CRM's expanded {"value": id,
// "name": ...} reference object.
type flexRef struct {
	ID   *int64
	Name string
}

func (f *flexRef) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	var id int64
	if err := json.Unmarshal(data, &id); err == nil {
		f.ID = &id
		return nil
	}

	var obj struct {
		Value *int64 `json:"value"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		f.ID = obj.Value
		f.Name = obj.Name
		return nil
	}

	return fmt.Errorf("value %s is not a reference", data)
}

type rawOrganization struct {
	ID                int64            `json:"id"`
	Name              string           `json:"name"`
	Label             flexString       `json:"label"`
	Phone             flexContactValue `json:"phone"`
	Email             flexContactValue `json:"email"`
	AddressLocality   string           `json:"address_locality"`
	AddressCountry    string           `json:"address_country"`
	CommonSupportLink string           `json:"Common Support Link"`
	MainSupportLink   string           `json:"Main Support Link"`
	Notes             string           `json:"notes"`
	DealTitle         string           `json:"deal_title"`
	OwnerID           flexRef          `json:"owner_id"`
	UpdateTime        string           `json:"update_time"`
}

type rawPerson struct {
	ID         int64            `json:"id"`
	Name       string           `json:"name"`
	Label      flexString       `json:"label"`
	Email      flexContactValue `json:"email"`
	Phone      flexContactValue `json:"phone"`
	OrgID      flexRef          `json:"org_id"`
	UpdateTime string           `json:"update_time"`
}

// convertOrganization canonicalizes one raw record, preserving the full
// upstream payload for forward compatibility.
func convertOrganization(raw json.RawMessage) (*models.Organization, error) {
	var r rawOrganization
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, &errs.DataError{Op: "decode organization", Err: err}
	}
	if r.ID == 0 || r.Name == "" {
		return nil, &errs.DataError{Op: "decode organization", Err: fmt.Errorf("record missing id or name")}
	}

	supportLink := r.CommonSupportLink
	if supportLink == "" {
		supportLink = r.MainSupportLink
	}

	org := &models.Organization{
		ExternalID:  r.ID,
		Name:        r.Name,
		Phone:       string(r.Phone),
		Email:       string(r.Email),
		City:        r.AddressLocality,
		Country:     r.AddressCountry,
		Status:      string(r.Label),
		SupportLink: supportLink,
		Notes:       r.Notes,
		DealTitle:   r.DealTitle,
		OwnerName:   r.OwnerID.Name,
		RawData:     string(raw),
	}
	org.SourceUpdated = parseSourceTime(r.UpdateTime)

	return org, nil
}

func convertPerson(raw json.RawMessage) (*models.Person, error) {
	var r rawPerson
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, &errs.DataError{Op: "decode person", Err: err}
	}
	if r.ID == 0 || r.Name == "" {
		return nil, &errs.DataError{Op: "decode person", Err: fmt.Errorf("record missing id or name")}
	}

	person := &models.Person{
		ExternalID:    r.ID,
		Name:          r.Name,
		Email:         string(r.Email),
		Phone:         string(r.Phone),
		OrgExternalID: r.OrgID.ID,
		Status:        string(r.Label),
		RawData:       string(raw),
	}
	person.SourceUpdated = parseSourceTime(r.UpdateTime)

	return person, nil
}

func parseSourceTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(sourceTimeLayout, s)
	if err != nil {
		return nil
	}
	return &t
}
