package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ActionLink is one button rendered by a Blink client.
type ActionLink struct {
	Label      string            `json:"label"`
	Href       string            `json:"href"`
	Parameters []ActionParameter `json:"parameters,omitempty"`
}

// ActionParameter asks the payer for an input (the amount of a variable link).
type ActionParameter struct {
	Name     string `json:"name"`
	Label    string `json:"label,omitempty"`
	Required bool   `json:"required,omitempty"`
}

type ActionLinks struct {
	Actions []ActionLink `json:"actions"`
}

type ActionError struct {
	Message string `json:"message"`
}

// ActionGetResponse 钱包展示用的元数据
type ActionGetResponse struct {
	Type        string       `json:"type"`
	Icon        string       `json:"icon"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Label       string       `json:"label"`
	Amount      string       `json:"amount,omitempty"`
	Token       string       `json:"token"`
	Disabled    bool         `json:"disabled,omitempty"`
	Links       *ActionLinks `json:"links,omitempty"`
	Error       *ActionError `json:"error,omitempty"`
}

// ActionPostRequest 付款人提交的账户（及可变金额）
type ActionPostRequest struct {
	Account string `json:"account" binding:"required"`
	Amount  ActionAmount `json:"amount,omitempty"`
}

// ActionAmount accepts the amount as a JSON string or a JSON number and
// keeps its text, e.g. 2.5 and "2.5" both become "2.5".
type ActionAmount string

func (a *ActionAmount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*a = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = ActionAmount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount must be a number or a string: %s", b)
	}
	*a = ActionAmount(n.String())
	return nil
}

// ActionPostResponse carries the base64 unsigned transaction.
type ActionPostResponse struct {
	Transaction string `json:"transaction"`
	Message     string `json:"message,omitempty"`
}

// ErrorEnvelope is the error body of every payer-facing endpoint.
type ErrorEnvelope struct {
	Error ActionError `json:"error"`
}

// ActionRule maps a website path to the action API (actions.json).
type ActionRule struct {
	PathPattern string `json:"pathPattern"`
	APIPath     string `json:"apiPath"`
}

type ActionsManifest struct {
	Rules []ActionRule `json:"rules"`
}

// WebhookResponse 回调处理结果
type WebhookResponse struct {
	Success   bool `json:"success"`
	Processed int  `json:"processed"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped"`
}
