package options

import (
	"fmt"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"s7panel/pkg/protocol/s7"
	"s7panel/pkg/protocol/s7/model"
	s7runtime "s7panel/pkg/protocol/s7/runtime"
	"s7panel/pkg/runtime/constant"
	"strconv"
	"strings"
)

const (
	maxRack = 7
	maxSlot = 31
	maxQoS  = 2
)

func Validate(o *Options) []error {
	var errs []error
	if err := o.BaseOptions.ValidateAndApply(); err != nil {
		errs = append(errs, err)
	}

	allErrs := field.ErrorList{}
	allErrs = append(allErrs, validateServer(o)...)
	allErrs = append(allErrs, validatePLC(&o.PLC, o.AutoConnect, field.NewPath("plc"))...)
	allErrs = append(allErrs, validateTags(o, field.NewPath("tags"))...)
	allErrs = append(allErrs, validateMQTT(o, field.NewPath("mqtt"))...)
	if len(allErrs) != 0 {
		errs = append(errs, allErrs.ToAggregate().Errors()...)
	}
	return errs
}

func validateServer(o *Options) field.ErrorList {
	allErrs := field.ErrorList{}
	if port, err := strconv.Atoi(o.Port); err != nil || port < 1 || port > 65535 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("port"), o.Port, "must be a port number between 1 and 65535"))
	}
	if o.Wait <= 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("graceful-timeout"), o.Wait.String(), "must be positive"))
	}
	if (o.CertFile == "") != (o.KeyFile == "") {
		allErrs = append(allErrs, field.Required(field.NewPath("keyFile"), "certFile and keyFile must be set together"))
	}
	if o.PollInterval <= 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("pollInterval"), o.PollInterval.String(), "must be positive"))
	}
	return allErrs
}

func validatePLC(p *PLCOptions, autoConnect bool, fldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}
	if _, ok := model.S7Modelers[p.Model]; !ok {
		allErrs = append(allErrs, field.NotSupported(fldPath.Child("model"), p.Model, sets.StringKeySet(model.S7Modelers).List()))
	}
	if autoConnect && strings.TrimSpace(p.Host) == "" {
		allErrs = append(allErrs, field.Required(fldPath.Child("host"), "required with autoConnect"))
	}
	if p.Port == 0 || p.Port > 65535 {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("port"), p.Port, "must be between 1 and 65535"))
	}
	if p.Rack > maxRack {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("rack"), p.Rack, fmt.Sprintf("must be <= %d", maxRack)))
	}
	if p.Slot > maxSlot {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("slot"), p.Slot, fmt.Sprintf("must be <= %d", maxSlot)))
	}
	if p.Timeout <= 0 || p.Timeout > s7.MaxTimeout {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("timeout"), p.Timeout.String(), fmt.Sprintf("must be in (0, %s]", s7.MaxTimeout)))
	}
	return allErrs
}

func validateTags(o *Options, fldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}
	names := sets.NewString()
	for i, spec := range o.Tags {
		idxPath := fldPath.Index(i)
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			allErrs = append(allErrs, field.Required(idxPath.Child("name"), ""))
		} else if names.Has(name) {
			allErrs = append(allErrs, field.Duplicate(idxPath.Child("name"), name))
		}
		names.Insert(name)

		addr, err := s7runtime.ParseAddress(spec.Address)
		if err != nil {
			allErrs = append(allErrs, field.Invalid(idxPath.Child("address"), spec.Address, err.Error()))
			continue
		}
		if spec.DataType == "" {
			continue
		}
		dt, err := constant.ParseDataType(spec.DataType)
		if err != nil {
			allErrs = append(allErrs, field.NotSupported(idxPath.Child("dataType"), spec.DataType, []string{"bool", "int16", "real32"}))
			continue
		}
		if dt != addr.DataType {
			allErrs = append(allErrs, field.Invalid(idxPath.Child("dataType"), spec.DataType, fmt.Sprintf("address %s holds %s", addr, addr.DataType)))
		}
	}
	return allErrs
}

func validateMQTT(o *Options, fldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}
	if !o.MQTT.Enabled {
		return allErrs
	}
	if o.MQTT.Broker == "" {
		allErrs = append(allErrs, field.Required(fldPath.Child("broker"), ""))
	}
	if strings.Trim(o.MQTT.TopicPrefix, "/") == "" {
		allErrs = append(allErrs, field.Required(fldPath.Child("topicPrefix"), ""))
	}
	if o.MQTT.QoS > maxQoS {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("qos"), o.MQTT.QoS, "must be 0, 1 or 2"))
	}
	return allErrs
}
