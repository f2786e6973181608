// Package catalog manages the categories and products that orders draw stock from.
//
// Every write runs in its own storage transaction. Products cannot be deleted
// while an order item references them; ListProducts searches names in one
// locale or across all of them.
package catalog
