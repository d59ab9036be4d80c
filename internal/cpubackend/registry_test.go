package cpubackend_test

import (
	"errors"
	"testing"

	"github.com/macboot/runtime/internal/cpubackend"
)

type stubBackend struct{ name string }

func (s *stubBackend) Name() string                          { return s.name }
func (s *stubBackend) CreateAddressSpace() cpubackend.AddressSpace { return nil }
func (s *stubBackend) DestroyAddressSpace(cpubackend.AddressSpace) {}
func (s *stubBackend) MapExecutable(cpubackend.AddressSpace, []byte, cpubackend.Flags) (cpubackend.CodeHandle, uint32, error) {
	return cpubackend.CodeHandle{}, 0, nil
}
func (s *stubBackend) UnmapExecutable(cpubackend.AddressSpace, cpubackend.CodeHandle) {}
func (s *stubBackend) SetRegisterA5(cpubackend.AddressSpace, uint32)                  {}
func (s *stubBackend) SetStacks(cpubackend.AddressSpace, uint32, uint32)              {}
func (s *stubBackend) InstallTrap(cpubackend.AddressSpace, uint16, cpubackend.TrapHandler, any) {
}
func (s *stubBackend) WriteJTSlot(cpubackend.AddressSpace, uint32, uint32) error { return nil }
func (s *stubBackend) MakeLazyJTStub(cpubackend.AddressSpace, uint32, int16, int) error {
	return nil
}
func (s *stubBackend) EnterAt(cpubackend.AddressSpace, uint32, cpubackend.Flags) error { return nil }
func (s *stubBackend) Relocate(cpubackend.AddressSpace, cpubackend.CodeHandle, []cpubackend.RelocEntry, uint32, uint32, uint32) error {
	return nil
}
func (s *stubBackend) AllocateMemory(cpubackend.AddressSpace, uint32, cpubackend.Flags) (uint32, error) {
	return 0, nil
}
func (s *stubBackend) ReadMemory(cpubackend.AddressSpace, uint32, []byte) error  { return nil }
func (s *stubBackend) WriteMemory(cpubackend.AddressSpace, uint32, []byte) error { return nil }
func (s *stubBackend) LoadSegTrapNumber() uint16                                 { return 0 }
func (s *stubBackend) ReadLoadSegSelector(cpubackend.AddressSpace) (int16, uint32, error) {
	return 0, 0, nil
}

func TestRegistryFirstRegisteredIsDefault(t *testing.T) {
	name1, name2 := "test_first", "test_second"

	cpubackend.Register(name1, &stubBackend{name: name1})
	cpubackend.Register(name2, &stubBackend{name: name2})

	def, ok := cpubackend.Default()
	if !ok {
		t.Fatalf("Default() ok = false, want true")
	}

	if def.Name() != name1 {
		t.Fatalf("Default().Name() = %q, want %q", def.Name(), name1)
	}

	got, ok := cpubackend.Get(name2)
	if !ok || got.Name() != name2 {
		t.Fatalf("Get(%q) = %v, %v", name2, got, ok)
	}
}

func TestTrapTableInvokeUnregisteredIsNoop(t *testing.T) {
	tt := &cpubackend.TrapTable{}

	handled, err := tt.Invoke(0x42, nil)
	if handled || err != nil {
		t.Fatalf("Invoke(unregistered) = %v, %v, want false, nil", handled, err)
	}
}

func TestTrapTableInvokeWrapsHandlerError(t *testing.T) {
	tt := &cpubackend.TrapTable{}
	sentinel := errors.New("boom")

	tt.Install(0x01, func(cpubackend.AddressSpace, any) error { return sentinel }, nil)

	handled, err := tt.Invoke(0x01, nil)
	if !handled {
		t.Fatalf("Invoke(registered) handled = false, want true")
	}

	if !errors.Is(err, sentinel) {
		t.Fatalf("Invoke error = %v, want wrapping %v", err, sentinel)
	}
}
