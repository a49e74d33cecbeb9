package situation

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// EffectType discriminates the on-disk JSON form of an effect.
type EffectType string

const (
	EffectAddItem       EffectType = "add_item"
	EffectRemoveItem    EffectType = "remove_item"
	EffectTransferItem  EffectType = "transfer_item"
	EffectRandomOutcome EffectType = "random_outcome"
	EffectMessage       EffectType = "message"
)

// Effect is a closed sum over the five effect kinds. The JSON wire form
// keeps the `type` discriminator; in memory the kinds are distinct types
// dispatched by type switch.
type Effect interface {
	Type() EffectType
}

// AddItem adds quantity of an item to the target inventory.
type AddItem struct {
	Target   string
	ItemName string
	Quantity Quantity
}

func (AddItem) Type() EffectType { return EffectAddItem }

// RemoveItem removes up to quantity of an item from the target inventory.
type RemoveItem struct {
	Target   string
	ItemName string
	Quantity Quantity
}

func (RemoveItem) Type() EffectType { return EffectRemoveItem }

// TransferItem moves up to quantity of an item from source to target.
type TransferItem struct {
	Source   string
	Target   string
	ItemName string
	Quantity Quantity
}

func (TransferItem) Type() EffectType { return EffectTransferItem }

// RandomOutcome draws one branch by cumulative probability and applies its
// effects recursively.
type RandomOutcome struct {
	Outcomes []OutcomeBranch
}

func (RandomOutcome) Type() EffectType { return EffectRandomOutcome }

// OutcomeBranch is one weighted alternative of a RandomOutcome.
type OutcomeBranch struct {
	Probability float64    `json:"probability"`
	Effects     EffectList `json:"effects"`
	Description string     `json:"description"`
}

// MessageEffect produces a transcript log entry. Agent-to-agent messages go
// through messages_to_send, not through this effect.
type MessageEffect struct {
	Target      string
	MessageText string
}

func (MessageEffect) Type() EffectType { return EffectMessage }

// Quantity is either a literal count or a "{param}" reference substituted
// per action invocation.
type Quantity struct {
	Value int
	Param string // non-empty means parameter reference
}

// Qty builds a literal quantity.
func Qty(n int) Quantity {
	return Quantity{Value: n}
}

// QtyParam builds a parameter-referencing quantity, e.g. QtyParam("{amount}").
func QtyParam(ref string) Quantity {
	return Quantity{Param: ref}
}

// IsParam reports whether the quantity is a parameter reference.
func (q Quantity) IsParam() bool {
	return q.Param != ""
}

// MarshalJSON emits a number for literals and a string for references.
func (q Quantity) MarshalJSON() ([]byte, error) {
	if q.IsParam() {
		return json.Marshal(q.Param)
	}
	return json.Marshal(q.Value)
}

// UnmarshalJSON accepts a JSON number or a reference string.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*q = Quantity{Value: n}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid quantity: %s", string(data))
	}
	// A bare numeric string is treated as a literal.
	if n, err := strconv.Atoi(s); err == nil {
		*q = Quantity{Value: n}
		return nil
	}
	*q = Quantity{Param: s}
	return nil
}

// EffectList is a JSON-aware slice of effects using the `type` discriminator.
type EffectList []Effect

// effectEnvelope is the union of all wire fields.
type effectEnvelope struct {
	Type        EffectType      `json:"type"`
	Target      string          `json:"target,omitempty"`
	Source      string          `json:"source,omitempty"`
	ItemName    string          `json:"item_name,omitempty"`
	Quantity    *Quantity       `json:"quantity,omitempty"`
	Outcomes    []OutcomeBranch `json:"outcomes,omitempty"`
	MessageText string          `json:"message_text,omitempty"`
}

// MarshalJSON writes each effect with its discriminator.
func (l EffectList) MarshalJSON() ([]byte, error) {
	envelopes := make([]effectEnvelope, 0, len(l))
	for _, eff := range l {
		env, err := envelopeOf(eff)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}
	return json.Marshal(envelopes)
}

func envelopeOf(eff Effect) (effectEnvelope, error) {
	switch e := eff.(type) {
	case AddItem:
		q := e.Quantity
		return effectEnvelope{Type: EffectAddItem, Target: e.Target, ItemName: e.ItemName, Quantity: &q}, nil
	case RemoveItem:
		q := e.Quantity
		return effectEnvelope{Type: EffectRemoveItem, Target: e.Target, ItemName: e.ItemName, Quantity: &q}, nil
	case TransferItem:
		q := e.Quantity
		return effectEnvelope{Type: EffectTransferItem, Source: e.Source, Target: e.Target, ItemName: e.ItemName, Quantity: &q}, nil
	case RandomOutcome:
		return effectEnvelope{Type: EffectRandomOutcome, Outcomes: e.Outcomes}, nil
	case MessageEffect:
		return effectEnvelope{Type: EffectMessage, Target: e.Target, MessageText: e.MessageText}, nil
	default:
		return effectEnvelope{}, fmt.Errorf("unknown effect type %T", eff)
	}
}

// UnmarshalJSON reads a list of discriminated effect objects.
func (l *EffectList) UnmarshalJSON(data []byte) error {
	var envelopes []effectEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return err
	}
	effects := make(EffectList, 0, len(envelopes))
	for _, env := range envelopes {
		eff, err := env.toEffect()
		if err != nil {
			return err
		}
		effects = append(effects, eff)
	}
	*l = effects
	return nil
}

func (env effectEnvelope) toEffect() (Effect, error) {
	quantity := Quantity{}
	if env.Quantity != nil {
		quantity = *env.Quantity
	}
	switch env.Type {
	case EffectAddItem:
		return AddItem{Target: env.Target, ItemName: env.ItemName, Quantity: quantity}, nil
	case EffectRemoveItem:
		return RemoveItem{Target: env.Target, ItemName: env.ItemName, Quantity: quantity}, nil
	case EffectTransferItem:
		return TransferItem{Source: env.Source, Target: env.Target, ItemName: env.ItemName, Quantity: quantity}, nil
	case EffectRandomOutcome:
		return RandomOutcome{Outcomes: env.Outcomes}, nil
	case EffectMessage:
		return MessageEffect{Target: env.Target, MessageText: env.MessageText}, nil
	default:
		return nil, fmt.Errorf("unknown effect type %q", env.Type)
	}
}
