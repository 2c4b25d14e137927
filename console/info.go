package console

import (
	"fmt"
	"io"

	"github.com/mr-tron/base58"

	"github.com/wippyai/qvm/vm"
)

// WriteInfo writes the vminfo listing for infos.
func WriteInfo(w io.Writer, infos []vm.Info) error {
	if _, err := fmt.Fprintln(w, "Registered virtual machines:"); err != nil {
		return err
	}
	for _, in := range infos {
		if err := writeInfo(w, in); err != nil {
			return err
		}
	}
	return nil
}

func writeInfo(w io.Writer, in vm.Info) error {
	var err error
	printf := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	printf("%s : ", in.Name)
	switch in.Mode {
	case vm.ModeNative:
		printf("native\n")
	case vm.ModeCompiled:
		printf("compiled on load\n")
	default:
		printf("interpreted\n")
	}
	if in.Mode != vm.ModeNative {
		printf("    code length : %7d\n", in.CodeLength)
		printf("    table length: %7d\n", in.TableLength)
	}
	printf("    data length : %7d\n", in.DataLength)
	if in.Source != "" {
		printf("    source      : %s\n", in.Source)
	}
	printf("    checksum    : %s\n", Checksum(in.Checksum))
	return err
}

// Checksum renders an image checksum for display.
func Checksum(sum [32]byte) string {
	return base58.Encode(sum[:])
}
