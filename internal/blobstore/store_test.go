package blobstore

import (
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	k := Key{NodeKey: "PORO", ReportStep: 0, Realization: 3, Category: Parameter}
	if err := s.Put(k, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	data, ok, err := s.Get(k)
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q, want hello", data)
	}
}

func TestParameterWriteAtNonzeroStepPanics(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for parameter write at report_step>0")
		}
	}()
	_ = s.Put(Key{NodeKey: "PORO", ReportStep: 1, Category: Parameter}, []byte("x"))
}

func TestIndexRebuildsAfterReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	k := Key{NodeKey: "SUMMARY", ReportStep: 5, Realization: 1, Category: DynamicForecast}
	if err := s.Put(k, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(k, []byte("v2")); err != nil { // overwrite via append
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	data, ok, err := s2.Get(k)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if string(data) != "v2" {
		t.Fatalf("got %q, want latest write v2", data)
	}
}

func TestSecondOpenerIsReadOnly(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	if !s2.ReadOnly() {
		t.Fatal("second opener should be read-only while the first holds the lock")
	}
	if err := s2.Put(Key{NodeKey: "X"}, []byte("y")); err == nil {
		t.Fatal("expected write to fail on a read-only store")
	}
}

func TestMountFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/mount"
	records := []MountRecord{
		{Category: Parameter, DriverID: 1, DriverInfo: []byte("poro")},
		{Category: DynamicForecast, DriverID: 2, DriverInfo: []byte("wopr")},
	}
	if err := WriteMountFile(path, records); err != nil {
		t.Fatal(err)
	}
	got, err := ReadMountFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Category != Parameter || string(got[1].DriverInfo) != "wopr" {
		t.Fatalf("unexpected round trip: %+v", got)
	}
}

func TestAuxiliarySingletons(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.PutTimeMap(map[int]int64{0: 1000, 1: 2000}); err != nil {
		t.Fatal(err)
	}
	tm, ok, err := s.GetTimeMap()
	if err != nil || !ok || tm[1] != 2000 {
		t.Fatalf("time map round trip failed: %v %v %v", tm, ok, err)
	}

	if err := s.PutMisfitEnsemble(0, map[int]float64{0: 1.5, 1: 2.5}); err != nil {
		t.Fatal(err)
	}
	mf, ok, err := s.GetMisfitEnsemble(0)
	if err != nil || !ok || mf[1] != 2.5 {
		t.Fatalf("misfit ensemble round trip failed: %v %v %v", mf, ok, err)
	}
}

func TestLockReleaseAllowsReacquire(t *testing.T) {
	path := t.TempDir() + "/case.lock"
	l1, err := AcquireLock(path)
	if err != nil {
		t.Fatal(err)
	}
	if l1.HolderID == "" {
		t.Fatal("expected a non-empty holder ID")
	}
	if _, err := AcquireLock(path); err != ErrCaseLocked {
		t.Fatalf("expected ErrCaseLocked, got %v", err)
	}
	if err := l1.Release(); err != nil {
		t.Fatal(err)
	}
	l2, err := AcquireLock(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l2.Release()
	if l2.HolderID == l1.HolderID {
		t.Fatal("expected a fresh holder ID on reacquisition")
	}
}
