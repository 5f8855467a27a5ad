package notify

import "errors"

// Multi fans every message out to all of its publishers. A failing
// publisher does not stop delivery to the others; errors are joined.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(n Notification) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishProgress implements Publisher.
func (m Multi) PublishProgress(pr Progress) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishProgress(pr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishSystem implements Publisher.
func (m Multi) PublishSystem(event SystemEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishSystem(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher.
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsConnected reports true if any publisher that tracks its connection is
// connected.
func (m Multi) IsConnected() bool {
	for _, p := range m {
		if cs, ok := p.(ConnectionStatus); ok && cs.IsConnected() {
			return true
		}
	}
	return false
}
