package rtm

// Options configures one subscription. Recognized keys are filter, history
// ({count, age}), fast_forward, subscription_id and position; every other
// key is sent verbatim in the subscribe request.
type Options map[string]any

// Clone returns a shallow copy; a nil receiver yields an empty map.
func (options Options) Clone() Options {
	clone := make(Options, len(options)+2)
	for key, value := range options {
		clone[key] = value
	}
	return clone
}

// SubscriptionID returns the subscription_id override.
func (options Options) SubscriptionID() (string, bool) {
	subscriptionID, ok := options[fieldSubscriptionID].(string)
	if !ok || subscriptionID == "" {
		return "", false
	}
	return subscriptionID, true
}

// Filter returns the server-side filter expression.
func (options Options) Filter() (string, bool) {
	filter, ok := options[fieldFilter].(string)
	return filter, ok
}

// FastForward reports whether fast_forward is set to true.
func (options Options) FastForward() bool {
	fastForward, _ := options[fieldFastForward].(bool)
	return fastForward
}

// Position returns the resume cursor, if any.
func (options Options) Position() (string, bool) {
	position, ok := options[fieldPosition].(string)
	if !ok || position == "" {
		return "", false
	}
	return position, true
}

// WithFilter returns a copy with filter set.
func (options Options) WithFilter(filter string) Options {
	clone := options.Clone()
	clone[fieldFilter] = filter
	return clone
}

// WithFastForward returns a copy with fast_forward set.
func (options Options) WithFastForward(fastForward bool) Options {
	clone := options.Clone()
	clone[fieldFastForward] = fastForward
	return clone
}

// WithHistory returns a copy with the history replay hints set. Zero values
// are omitted.
func (options Options) WithHistory(count int, age int) Options {
	history := map[string]any{}
	if count > 0 {
		history["count"] = count
	}
	if age > 0 {
		history["age"] = age
	}
	clone := options.Clone()
	clone["history"] = history
	return clone
}

// WithSubscriptionID returns a copy with the subscription_id override set.
func (options Options) WithSubscriptionID(subscriptionID string) Options {
	clone := options.Clone()
	clone[fieldSubscriptionID] = subscriptionID
	return clone
}

// WithPosition returns a copy with the resume position set.
func (options Options) WithPosition(position string) Options {
	clone := options.Clone()
	clone[fieldPosition] = position
	return clone
}
