package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"BlinkPay/internal/models"
	"BlinkPay/utils"
)

// ActionPathPrefix is where the action API is mounted.
const ActionPathPrefix = "/api/actions/pay/"

type ActionConfig struct {
	// BaseURL is the public origin used in action links, e.g. https://pay.example.com.
	BaseURL string
	IconURL string
	// AmountPresets are UI-unit buttons offered for variable-amount obligations.
	AmountPresets []string
}

// ActionService answers Blink GET/POST requests for obligations.
type ActionService struct {
	store   Store
	builder *Builder
	cfg     ActionConfig
	log     *utils.Logger
}

func NewActionService(store Store, builder *Builder, cfg ActionConfig, log *utils.Logger) *ActionService {
	if log == nil {
		log = utils.NopLogger()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ActionService{store: store, builder: builder, cfg: cfg, log: log}
}

// Describe returns the wallet-facing metadata of an obligation. It never writes.
func (s *ActionService) Describe(ctx context.Context, id string) (*models.ActionGetResponse, error) {
	o, m, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	title := o.Title
	if title == "" {
		title = fmt.Sprintf("Pay %s", m.Name)
	}
	resp := &models.ActionGetResponse{
		Type:        "action",
		Icon:        s.cfg.IconURL,
		Title:       title,
		Description: o.Description,
		Token:       o.Token.String(),
	}

	if !o.Payable() {
		resp.Disabled = true
		if o.Status.Terminal() {
			resp.Label = capitalize(o.Status.String())
			resp.Error = &models.ActionError{Message: fmt.Sprintf("this %s is %s", kindNoun(o.Kind), o.Status)}
		} else {
			resp.Label = "Unavailable"
			resp.Error = &models.ActionError{Message: fmt.Sprintf("this %s cannot be paid", kindNoun(o.Kind))}
		}
		return resp, nil
	}

	href := s.href(o.ID)
	if !o.VariableAmount() {
		resp.Amount = FromBaseUnits(*o.ExpectedAmount, o.Token)
		resp.Label = fmt.Sprintf("Pay %s %s", resp.Amount, o.Token)
		resp.Links = &models.ActionLinks{Actions: []models.ActionLink{
			{Label: resp.Label, Href: href},
		}}
		return resp, nil
	}

	resp.Label = fmt.Sprintf("Pay with %s", o.Token)
	var links []models.ActionLink
	for _, p := range s.cfg.AmountPresets {
		if _, err := ToBaseUnits(p, o.Token); err != nil {
			continue
		}
		links = append(links, models.ActionLink{
			Label: fmt.Sprintf("%s %s", p, o.Token),
			Href:  href + "?amount=" + url.QueryEscape(p),
		})
	}
	links = append(links, models.ActionLink{
		Label: fmt.Sprintf("Pay %s", o.Token),
		Href:  href + "?amount={amount}",
		Parameters: []models.ActionParameter{
			{Name: "amount", Label: fmt.Sprintf("Enter a %s amount", o.Token), Required: true},
		},
	})
	resp.Links = &models.ActionLinks{Actions: links}
	return resp, nil
}

// Pay builds the unsigned payment transaction for account. amount is in UI
// units and only read for variable-amount obligations.
func (s *ActionService) Pay(ctx context.Context, id, account, amount string) (*models.ActionPostResponse, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, fmt.Errorf("%w: account is required", ErrInvalidRequest)
	}

	o, m, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.Payable() {
		return nil, fmt.Errorf("%w: %s is %s", ErrObligationNotPayable, kindNoun(o.Kind), o.Status)
	}

	req := BuildRequest{Obligation: *o, Merchant: *m, Payer: account}
	if o.VariableAmount() {
		if strings.TrimSpace(amount) == "" {
			return nil, fmt.Errorf("%w: amount is required", ErrInvalidRequest)
		}
		v, err := ToBaseUnits(amount, o.Token)
		if err != nil {
			return nil, fmt.Errorf("%w: amount: %v", ErrInvalidRequest, err)
		}
		req.Amount = &v
	}

	tx, utx, err := s.builder.BuildSerialized(ctx, req)
	if err != nil {
		return nil, err
	}

	s.log.Info("action transaction built",
		"obligation", o.ID, "payer", account, "token", o.Token.String(), "gross", utx.Split.Gross)

	return &models.ActionPostResponse{
		Transaction: tx,
		Message:     fmt.Sprintf("Pay %s %s to %s", FromBaseUnits(utx.Split.Gross, o.Token), o.Token, m.Name),
	}, nil
}

// Manifest is served as /actions.json.
func (s *ActionService) Manifest() models.ActionsManifest {
	return models.ActionsManifest{Rules: []models.ActionRule{
		{PathPattern: "/pay/*", APIPath: ActionPathPrefix + "*"},
	}}
}

func (s *ActionService) load(ctx context.Context, id string) (*models.Obligation, *models.Merchant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil, fmt.Errorf("%w: obligation id is required", ErrInvalidRequest)
	}
	o, err := s.store.Obligation(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	m, err := s.store.Merchant(ctx, o.MerchantID)
	if errors.Is(err, ErrUnknownMerchant) {
		return nil, nil, fmt.Errorf("%w: merchant has no destination address", ErrInvalidRequest)
	}
	if err != nil {
		return nil, nil, err
	}
	return o, m, nil
}

func (s *ActionService) href(id string) string {
	return s.cfg.BaseURL + ActionPathPrefix + url.PathEscape(id)
}

func kindNoun(k models.ObligationKind) string {
	switch k {
	case models.KindInvoice:
		return "invoice"
	case models.KindPaymentLink:
		return "payment link"
	case models.KindPaymentRequest:
		return "payment request"
	default:
		return "obligation"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
