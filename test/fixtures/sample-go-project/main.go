package main

import "fmt"

func main() {
	o := Order{ID: "ord-1", Total: 42}
	if err := submitOrder(o); err != nil {
		fmt.Println("submit failed:", err)
	}
}

func submitOrder(o Order) error {
	if err := validate(o); err != nil {
		return err
	}
	return save(o)
}
