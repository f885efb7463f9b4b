package runtime

func (in *S7Address) DeepCopy() *S7Address {
	if in == nil {
		return nil
	}

	out := *in
	out.Option = in.Option.DeepCopy()

	return &out
}

func (in *S7AddressOption) DeepCopy() *S7AddressOption {
	if in == nil {
		return nil
	}

	out := *in

	return &out
}
