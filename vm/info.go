package vm

// Info summarizes a registered module for diagnostics.
type Info struct {
	Name        string
	Mode        Mode
	Source      string
	Path        string
	CodeLength  int
	TableLength int
	DataLength  int
	Symbols     int
	CallLevel   int
	HunkBytes   int
	Checksum    [32]byte
}

// Info returns a summary of every registered module in slot order.
func (r *Registry) Info() []Info {
	vms := r.VMs()
	out := make([]Info, 0, len(vms))
	for _, vm := range vms {
		in := Info{
			Name:      vm.name,
			Mode:      vm.mode,
			Path:      vm.path,
			Symbols:   vm.symbols.Len(),
			CallLevel: vm.callLevel,
			HunkBytes: vm.hunkBytes,
			Checksum:  vm.checksum,
		}
		if vm.source != nil {
			in.Source = vm.source.Name()
		}
		if vm.native == nil {
			in.CodeLength = int(vm.codeLength)
			in.TableLength = int(vm.instructionCount) * 4
			in.DataLength = int(vm.dataMask) + 1
		} else {
			in.DataLength = len(vm.native.Memory())
		}
		out = append(out, in)
	}
	return out
}
