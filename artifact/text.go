package artifact

import "fmt"

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (v Variant) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Variant) UnmarshalText(b []byte) error {
	parsed, err := ParseVariant(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (e Entropy) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Entropy) UnmarshalText(b []byte) error {
	switch string(b) {
	case "random":
		*e = Random
	case "beacon":
		*e = Beacon
	default:
		return fmt.Errorf("unknown entropy source %q", b)
	}
	return nil
}

func (s Seal) String() string {
	switch s {
	case Open:
		return "open"
	case Sealed:
		return "sealed"
	case Final:
		return "final"
	default:
		return fmt.Sprintf("seal(%d)", uint8(s))
	}
}

func (s Seal) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
