package storage

import (
	"fmt"
	"testing"
)

func TestTable_Isolation(t *testing.T) {
	db := NewMemory()
	err := db.Update(func(tx Txn) error {
		a := NewTable(tx, "a/")
		b := NewTable(tx, "b/")
		if err := a.Put([]byte("key"), []byte("fromA")); err != nil {
			return err
		}
		if err := b.Put([]byte("key"), []byte("fromB")); err != nil {
			return err
		}
		got, err := a.Get([]byte("key"))
		if err != nil {
			return err
		}
		if string(got) != "fromA" {
			t.Errorf("a.Get = %q, want fromA", got)
		}
		if ok, _ := a.Has([]byte("b/key")); ok {
			t.Error("a should not see b's raw key")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got, _ := db.Get([]byte("b/key")); string(got) != "fromB" {
		t.Fatalf("raw b/key = %q, want fromB", got)
	}
}

func TestTable_ForEachStripsPrefix(t *testing.T) {
	db := NewMemory()
	db.Put([]byte("stake/alice"), []byte("1"))
	db.Put([]byte("stake/bob"), []byte("2"))
	db.Put([]byte("stakeX/carol"), []byte("3"))

	var keys []string
	err := ReadTable(db, "stake/").ForEach(nil, func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(keys) != 2 || keys[0] != "alice" || keys[1] != "bob" {
		t.Fatalf("ForEach keys = %v, want [alice bob]", keys)
	}
}

func TestTable_ForEachStopEarly(t *testing.T) {
	db := NewMemory()
	for i := 0; i < 10; i++ {
		db.Put([]byte(fmt.Sprintf("p/k%d", i)), []byte("v"))
	}

	count := 0
	stopErr := fmt.Errorf("stop")
	err := ReadTable(db, "p/").ForEach(nil, func(key, value []byte) error {
		count++
		if count >= 3 {
			return stopErr
		}
		return nil
	})
	if err != stopErr {
		t.Fatalf("ForEach err = %v, want stopErr", err)
	}
	if count != 3 {
		t.Fatalf("ForEach called %d times, want 3", count)
	}
}

func TestTable_JSON(t *testing.T) {
	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	db := NewMemory()
	err := db.Update(func(tx Txn) error {
		return NewTable(tx, "rec/").PutJSON("x", record{Name: "x", Count: 7})
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	tbl := ReadTable(db, "rec/")
	var got record
	ok, err := tbl.GetJSON("x", &got)
	if err != nil || !ok {
		t.Fatalf("GetJSON = (%v, %v), want (true, nil)", ok, err)
	}
	if got.Name != "x" || got.Count != 7 {
		t.Fatalf("GetJSON = %+v", got)
	}
	ok, err = tbl.GetJSON("missing", &got)
	if err != nil || ok {
		t.Fatalf("GetJSON(missing) = (%v, %v), want (false, nil)", ok, err)
	}
	if err := tbl.Put([]byte("y"), []byte("1")); err == nil {
		t.Fatal("Put on read-only table should fail")
	}
}
