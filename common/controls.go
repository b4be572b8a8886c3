/*
 *
 * webcat - a driver-agnostic browser interaction layer
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/grafana/webcat/api"
)

// CheckValueSettable fails unless el is a textarea or a text-like input.
func CheckValueSettable(el api.ElementHandle) error {
	switch el.TagName() {
	case "textarea":
		return nil
	case "input":
		switch el.Type() {
		case "checkbox", "radio", "file", "submit", "image", "button", "reset":
		default:
			return nil
		}
	}
	return fmt.Errorf("%w: cannot set the value of %s", ErrNotAFormControl, el)
}

// CheckCheckable fails unless el is a checkbox or a radio button.
func CheckCheckable(el api.ElementHandle) error {
	if t := el.Type(); el.TagName() == "input" && (t == "checkbox" || t == "radio") {
		return nil
	}
	return fmt.Errorf("%w: cannot check %s", ErrNotAFormControl, el)
}

// CheckSelectable fails unless el is an option.
func CheckSelectable(el api.ElementHandle) error {
	if el.TagName() == "option" {
		return nil
	}
	return fmt.Errorf("%w: cannot select %s", ErrNotAFormControl, el)
}

// CheckFileInput fails unless el is a file input.
func CheckFileInput(el api.ElementHandle) error {
	if el.TagName() == "input" && el.Type() == "file" {
		return nil
	}
	return fmt.Errorf("%w: cannot attach a file to %s", ErrNotAFormControl, el)
}

// TruncateToMaxLength cuts value to the maxlength attribute of el.
func TruncateToMaxLength(el api.ElementHandle, value string) string {
	raw, ok := el.Attr("maxlength")
	if !ok {
		return value
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}
