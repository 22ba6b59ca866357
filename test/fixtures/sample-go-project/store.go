package main

import "errors"

// Order is a minimal domain record.
type Order struct {
	ID    string
	Total int
}

func validate(o Order) error {
	if o.ID == "" {
		return errors.New("missing id")
	}
	return nil
}

func save(o Order) error {
	return nil
}
