package filter

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/NERVsystems/overpassmap/pkg/core"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// modelFields mirrors Model for struct-tag validation.
type modelFields struct {
	ElementType string   `validate:"oneof=node way relation nwr"`
	CriteriaKey []string `validate:"dive,required"`
	AreaID      int64    `validate:"gte=0"`
	Display     DisplayOptions
}

// Validate checks the model's invariants. An unresolved place is accepted;
// a model with neither place nor area is not.
func (m Model) Validate() error {
	if m.area.Empty() {
		return core.NewValidationError("either _place or _area is required")
	}

	keys := make([]string, len(m.criteria))
	for i, c := range m.criteria {
		if strings.ContainsAny(c.Key, "\x00\r\n") || strings.ContainsAny(c.Value, "\x00\r\n") {
			return core.NewValidationError(fmt.Sprintf("filter %q contains control characters", c.Key))
		}
		keys[i] = c.Key
	}

	fields := modelFields{
		ElementType: string(m.elementType),
		CriteriaKey: keys,
		AreaID:      m.area.id,
		Display:     m.display,
	}

	err := getValidator().Struct(fields)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return core.NewValidationError(err.Error()).WithCause(err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return core.NewValidationError(strings.Join(msgs, "; ")).WithCause(err)
}
