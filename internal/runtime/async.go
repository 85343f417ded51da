package runtime

import (
	"sort"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/funcflow/internal/runtime/config"
	loggingpkg "github.com/drblury/funcflow/internal/runtime/logging"
	"github.com/drblury/funcflow/internal/runtime/metadata"
)

// inputTopic returns the topic an input is consumed from. Bindings are
// addressed by component name and pub-sub components by their uri.
func inputTopic(c *config.Component) (string, bool) {
	switch {
	case c == nil:
		return "", false
	case config.IsBindingComponent(c):
		return c.ComponentName, c.ComponentName != ""
	case config.IsPubSubComponent(c):
		return c.URI, c.URI != ""
	default:
		return "", false
	}
}

// registerAsyncInputs subscribes the pipeline to every declared input, in
// input name order.
func (s *Service) registerAsyncInputs() {
	names := make([]string, 0, len(s.Function.Inputs))
	for name := range s.Function.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c := s.Function.Inputs[name]
		topic, ok := inputTopic(c)
		if !ok {
			fields := loggingpkg.LogFields{"input": name}
			if c != nil {
				fields["component_type"] = c.ComponentType
			}
			s.Logger.Info("Skipping input that is neither a binding nor a pub-sub topic", fields)
			continue
		}

		s.router.AddNoPublisherHandler("funcflow-"+name, topic, s.subscriber, s.inputHandler(name))
		s.inputs = append(s.inputs, name)
		s.Logger.Info("Subscribed input", loggingpkg.LogFields{
			"input":          name,
			"topic":          topic,
			"component_type": c.ComponentType,
		})
	}
}

func (s *Service) inputHandler(input string) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		return s.pipeline.Invoke(msg.Context(), msg.Payload,
			WithMetadata(metadata.FromWatermill(msg.Metadata)),
			WithSource(input),
		)
	}
}

// Inputs returns the names of the subscribed inputs.
func (s *Service) Inputs() []string {
	return append([]string(nil), s.inputs...)
}
