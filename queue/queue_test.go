package queue

import (
	"testing"
	"time"

	"github.com/xolotlmix/xolotl/keys"
)

func TestMapInsertAndTake(t *testing.T) {
	m := New[keys.RoutingName, int]()
	var route keys.RoutingName
	route[0] = 1
	var name PacketName
	name[0] = 2

	if err := m.Insert(route, name, 42); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	v, ok := m.Take(route, name)
	if !ok {
		t.Fatal("Take: not found")
	}
	if v != 42 {
		t.Errorf("Take: got %d, want 42", v)
	}

	if _, ok := m.Take(route, name); ok {
		t.Error("Take: second take should find nothing")
	}
}

func TestMapInsertCollision(t *testing.T) {
	m := New[keys.RoutingName, int]()
	var route keys.RoutingName
	var name PacketName

	if err := m.Insert(route, name, 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := m.Insert(route, name, 2); err == nil {
		t.Fatal("Insert: expected packet-name collision error")
	}
}

func TestMapInsertSameNameDifferentKeysOK(t *testing.T) {
	m := New[keys.RoutingName, int]()
	var name PacketName

	var a, b keys.RoutingName
	a[0] = 1
	b[0] = 2

	if err := m.Insert(a, name, 1); err != nil {
		t.Fatalf("Insert a: %v", err)
	}
	if err := m.Insert(b, name, 2); err != nil {
		t.Fatalf("Insert b: %v", err)
	}

	va, _ := m.Take(a, name)
	vb, _ := m.Take(b, name)
	if va != 1 || vb != 2 {
		t.Errorf("got (%d, %d), want (1, 2)", va, vb)
	}
}

func TestMapDrain(t *testing.T) {
	m := New[keys.RoutingName, int]()
	var route keys.RoutingName

	for i := range 5 {
		var name PacketName
		name[0] = byte(i)
		if err := m.Insert(route, name, i); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	if n := m.Len(route); n != 5 {
		t.Fatalf("Len = %d, want 5", n)
	}

	drained := m.Drain(route)
	if len(drained) != 5 {
		t.Fatalf("Drain returned %d entries, want 5", len(drained))
	}
	if n := m.Len(route); n != 0 {
		t.Errorf("Len after Drain = %d, want 0", n)
	}
}

func TestTransmitQueue(t *testing.T) {
	q := NewTransmitQueue()
	var route keys.RoutingName
	route[0] = 9
	var name PacketName
	name[0] = 1

	entry := TransmitEntry{
		ForwardAt: time.Now().Add(time.Second),
		Route:     route,
		Header:    []byte("header"),
		Body:      []byte("body"),
	}
	if err := q.Insert(route, name, entry); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, ok := q.Take(route, name)
	if !ok {
		t.Fatal("Take: not found")
	}
	if string(got.Header) != "header" || string(got.Body) != "body" {
		t.Errorf("got %+v", got)
	}
}
