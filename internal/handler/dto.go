package handler

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-crm-activities/internal/repository"
	"github.com/pesio-ai/be-crm-activities/internal/service"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationErrors maps each failing field to the tag it failed on.
func validationErrors(err error) map[string]string {
	out := make(map[string]string)
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		out["_"] = err.Error()
		return out
	}
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

type walkInDTO struct {
	CustomerName string    `json:"customer_name" validate:"required,max=200"`
	ProjectName  string    `json:"project_name" validate:"max=200"`
	VisitDate    time.Time `json:"visit_date"`
}

func (d *walkInDTO) details() *repository.WalkInDetails {
	if d == nil {
		return nil
	}
	return &repository.WalkInDetails{
		CustomerName: strings.TrimSpace(d.CustomerName),
		ProjectName:  strings.TrimSpace(d.ProjectName),
		VisitDate:    d.VisitDate,
	}
}

type closureDTO struct {
	CustomerName string          `json:"customer_name" validate:"required,max=200"`
	UnitNumber   string          `json:"unit_number" validate:"max=50"`
	DealValue    decimal.Decimal `json:"deal_value"`
	ClosureDate  time.Time       `json:"closure_date"`
}

func (d *closureDTO) details() *repository.ClosureDetails {
	if d == nil {
		return nil
	}
	return &repository.ClosureDetails{
		CustomerName: strings.TrimSpace(d.CustomerName),
		UnitNumber:   strings.TrimSpace(d.UnitNumber),
		DealValue:    d.DealValue,
		ClosureDate:  d.ClosureDate,
	}
}

type createActivityDTO struct {
	Kind         string      `json:"kind" validate:"required,oneof=walk_in closure"`
	OwnerEmail   string      `json:"owner_email" validate:"omitempty,email"`
	BuilderEmail *string     `json:"builder_email" validate:"omitempty,email"`
	WalkIn       *walkInDTO  `json:"walk_in"`
	Closure      *closureDTO `json:"closure"`
}

func (d *createActivityDTO) Ok() (map[string]string, bool) {
	if err := validate.Struct(d); err != nil {
		return validationErrors(err), false
	}
	return nil, true
}

func (d *createActivityDTO) toRequest(actor string) *service.CreateActivityRequest {
	owner := d.OwnerEmail
	if owner == "" {
		owner = actor
	}
	return &service.CreateActivityRequest{
		Kind:         repository.ActivityKind(d.Kind),
		OwnerEmail:   owner,
		BuilderEmail: d.BuilderEmail,
		WalkIn:       d.WalkIn.details(),
		Closure:      d.Closure.details(),
		ActorEmail:   actor,
	}
}

type verifyDTO struct {
	ActivityID string  `json:"activity_id" validate:"required"`
	Authority  string  `json:"authority" validate:"required,oneof=builder reporting_officer"`
	Verdict    string  `json:"verdict" validate:"required,oneof=verified not_verified"`
	Note       *string `json:"note" validate:"omitempty,max=2000"`
}

func (d *verifyDTO) Ok() (map[string]string, bool) {
	if err := validate.Struct(d); err != nil {
		return validationErrors(err), false
	}
	return nil, true
}

type resubmitDTO struct {
	ActivityID string      `json:"activity_id" validate:"required"`
	WalkIn     *walkInDTO  `json:"walk_in"`
	Closure    *closureDTO `json:"closure"`
	Note       *string     `json:"note" validate:"omitempty,max=2000"`
}

func (d *resubmitDTO) Ok() (map[string]string, bool) {
	if err := validate.Struct(d); err != nil {
		return validationErrors(err), false
	}
	return nil, true
}

func (d *resubmitDTO) changes() service.ActivityChanges {
	return service.ActivityChanges{
		WalkIn:  d.WalkIn.details(),
		Closure: d.Closure.details(),
		Note:    d.Note,
	}
}

type assignManagerDTO struct {
	ActivityID   string `json:"activity_id" validate:"required"`
	ManagerEmail string `json:"manager_email" validate:"required,email"`
}

func (d *assignManagerDTO) Ok() (map[string]string, bool) {
	if err := validate.Struct(d); err != nil {
		return validationErrors(err), false
	}
	return nil, true
}
