package livesync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ettle/strcase"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Update is a validated, typed push payload.
type Update struct {
	Topic Topic
	Data  DashboardData
}

// MessageDecoder validates inbound push messages.
type MessageDecoder interface {
	Decode(msg InboundMessage) (Update, error)
}

// Decoder validates push payloads against per-topic JSON schemas.
type Decoder struct {
	mu       sync.RWMutex
	topics   map[Topic]TopicDefinition
	compiled map[Topic]*jsonschema.Schema
}

// NewDecoder builds a decoder with the default dashboard topics registered.
func NewDecoder() *Decoder {
	d := &Decoder{
		topics:   make(map[Topic]TopicDefinition),
		compiled: make(map[Topic]*jsonschema.Schema),
	}
	for _, def := range DefaultTopicDefinitions() {
		_ = d.Register(def)
	}
	return d
}

// Register adds or replaces a topic definition.
func (d *Decoder) Register(def TopicDefinition) error {
	if def.Topic == "" {
		return fmt.Errorf("livesync: topic name is required")
	}
	if def.Apply == nil {
		return fmt.Errorf("livesync: topic %s requires an apply function", def.Topic)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.topics[def.Topic] = def
	delete(d.compiled, def.Topic)
	return nil
}

// Topics lists the registered topic names.
func (d *Decoder) Topics() []Topic {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Topic, 0, len(d.topics))
	for topic := range d.topics {
		out = append(out, topic)
	}
	return out
}

// Decode validates msg and projects it onto DashboardData. Failures return a
// *ValidationError or *UnknownTopicError; callers skip the update.
func (d *Decoder) Decode(msg InboundMessage) (Update, error) {
	topic := NormalizeTopic(msg.Topic)
	d.mu.RLock()
	def, ok := d.topics[topic]
	d.mu.RUnlock()
	if !ok {
		return Update{}, &UnknownTopicError{Topic: msg.Topic, Data: cloneBytes(msg.Data)}
	}
	raw := msg.Data
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("null")
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Update{}, &ValidationError{Topic: msg.Topic, Data: cloneBytes(raw), Err: err}
	}
	if len(def.Schema) > 0 {
		schema, err := d.schemaFor(def)
		if err != nil {
			return Update{}, err
		}
		if err := schema.Validate(payload); err != nil {
			return Update{}, &ValidationError{Topic: msg.Topic, Data: cloneBytes(raw), Err: err}
		}
	}
	data, err := def.Apply(raw)
	if err != nil {
		return Update{}, &ValidationError{Topic: msg.Topic, Data: cloneBytes(raw), Err: err}
	}
	return Update{Topic: topic, Data: data}, nil
}

func (d *Decoder) schemaFor(def TopicDefinition) (*jsonschema.Schema, error) {
	d.mu.RLock()
	schema, ok := d.compiled[def.Topic]
	d.mu.RUnlock()
	if ok {
		return schema, nil
	}
	data, err := json.Marshal(def.Schema)
	if err != nil {
		return nil, fmt.Errorf("livesync: marshal schema %s: %w", def.Topic, err)
	}
	compiler := jsonschema.NewCompiler()
	name := string(def.Topic) + ".json"
	if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("livesync: load schema %s: %w", def.Topic, err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("livesync: compile schema %s: %w", def.Topic, err)
	}
	d.mu.Lock()
	d.compiled[def.Topic] = compiled
	d.mu.Unlock()
	return compiled, nil
}

// NormalizeTopic maps topic spellings (providerList, provider-list,
// performance_series) onto the canonical topic names.
func NormalizeTopic(name string) Topic {
	key := strcase.ToSnake(strings.TrimSpace(name))
	if topic, ok := topicAliases[key]; ok {
		return topic
	}
	return Topic(key)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
