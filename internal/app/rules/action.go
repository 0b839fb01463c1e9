package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sifan077/PowerTrack/internal/app/model"
)

// ErrInvalidAction is returned for actions with an unknown type or bad parameters.
var ErrInvalidAction = errors.New("invalid rule action")

// Action is a decoded rule action. The concrete types below are the only
// implementations.
type Action interface {
	Type() model.ActionType
}

// SetCommissionRate replaces the rate and recomputes the commission from the order value.
type SetCommissionRate struct {
	Rate float64
}

// AddBonus adds a fixed amount on top of the commission computed so far.
type AddBonus struct {
	Amount float64
}

type TagUser struct {
	Tags []string
}

type TriggerWebhook struct {
	URL string
}

// SendNotification is a marker consumed by the conversion pipeline.
type SendNotification struct {
	Template string
}

func (SetCommissionRate) Type() model.ActionType { return model.ActionSetCommissionRate }
func (AddBonus) Type() model.ActionType          { return model.ActionAddBonus }
func (TagUser) Type() model.ActionType           { return model.ActionTagUser }
func (TriggerWebhook) Type() model.ActionType    { return model.ActionTriggerWebhook }
func (SendNotification) Type() model.ActionType  { return model.ActionSendNotification }

type actionParams struct {
	Rate     *float64 `json:"rate"`
	Amount   *float64 `json:"amount"`
	Tags     []string `json:"tags"`
	Tag      string   `json:"tag"`
	URL      string   `json:"url"`
	Template string   `json:"template"`
}

// DecodeAction turns a stored action into its typed variant.
func DecodeAction(a model.RuleAction) (Action, error) {
	var p actionParams
	if len(a.Parameters) > 0 {
		if err := json.Unmarshal(a.Parameters, &p); err != nil {
			return nil, fmt.Errorf("%w: %s parameters: %v", ErrInvalidAction, a.Type, err)
		}
	}

	switch a.Type {
	case model.ActionSetCommissionRate:
		if p.Rate == nil || *p.Rate < 0 {
			return nil, fmt.Errorf("%w: %s requires a non-negative rate", ErrInvalidAction, a.Type)
		}
		return SetCommissionRate{Rate: *p.Rate}, nil
	case model.ActionAddBonus:
		if p.Amount == nil {
			return nil, fmt.Errorf("%w: %s requires an amount", ErrInvalidAction, a.Type)
		}
		return AddBonus{Amount: *p.Amount}, nil
	case model.ActionTagUser:
		tags := p.Tags
		if p.Tag != "" {
			tags = append(tags, p.Tag)
		}
		if len(tags) == 0 {
			return nil, fmt.Errorf("%w: %s requires tags", ErrInvalidAction, a.Type)
		}
		return TagUser{Tags: tags}, nil
	case model.ActionTriggerWebhook:
		if strings.TrimSpace(p.URL) == "" {
			return nil, fmt.Errorf("%w: %s requires a url", ErrInvalidAction, a.Type)
		}
		return TriggerWebhook{URL: p.URL}, nil
	case model.ActionSendNotification:
		return SendNotification{Template: p.Template}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidAction, a.Type)
	}
}

// Result holds the outputs of executing a rule's actions. Nil commission
// fields mean the actions left them unchanged.
type Result struct {
	Commission     *float64
	CommissionRate *float64
	UserTags       []string
	WebhookURLs    []string
	Notifications  []string
}

// Execute applies actions in order. Each action sees the commission left by
// the previous one. Actions that fail to decode are skipped and reported in
// the returned error; the result of the remaining actions is still valid.
func Execute(actions []model.RuleAction, p Payload) (Result, error) {
	var (
		res  Result
		errs []error
	)
	for _, stored := range actions {
		action, err := DecodeAction(stored)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		switch a := action.(type) {
		case SetCommissionRate:
			rate := a.Rate
			commission := round2(p.OrderValue * rate / 100)
			res.CommissionRate = &rate
			res.Commission = &commission
			p.CommissionRate = rate
			p.Commission = commission
		case AddBonus:
			commission := round2(p.Commission + a.Amount)
			res.Commission = &commission
			p.Commission = commission
		case TagUser:
			res.UserTags = append(res.UserTags, a.Tags...)
		case TriggerWebhook:
			res.WebhookURLs = append(res.WebhookURLs, a.URL)
		case SendNotification:
			res.Notifications = append(res.Notifications, a.Template)
		}
	}
	return res, errors.Join(errs...)
}
