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
	"errors"
	"fmt"
)

var (
	// ErrElementNotFound is matched by every ElementNotFoundError.
	ErrElementNotFound = errors.New("element not found")
	// ErrDriverNotFound is matched by every DriverNotFoundError.
	ErrDriverNotFound = errors.New("driver not found")
	// ErrStaleElement is returned when a handle from an older document
	// snapshot is passed to a driver.
	ErrStaleElement = errors.New("element belongs to a stale document")
	// ErrTooManyRedirects is returned when the redirect bound is exhausted.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrNoDocument is returned before the first navigation.
	ErrNoDocument = errors.New("no document loaded, visit a page first")
	// ErrInvalidSelector is returned for CSS selectors that do not compile.
	ErrInvalidSelector = errors.New("invalid selector")
	// ErrNotAFormControl is returned when a driver operation is applied to
	// an element of the wrong kind.
	ErrNotAFormControl = errors.New("element does not support this operation")
)

// ElementNotFoundError is returned when a locator matches no element.
type ElementNotFoundError struct {
	Kind    ElementKind
	Locator string
	Scope   string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("unable to find %s %q within %s", e.Kind, e.Locator, e.Scope)
}

// Is lets errors.Is match ErrElementNotFound.
func (e *ElementNotFoundError) Is(target error) bool {
	return target == ErrElementNotFound
}

// DriverNotFoundError is returned when a session names an unregistered driver.
type DriverNotFoundError struct {
	Name string
}

func (e *DriverNotFoundError) Error() string {
	return fmt.Sprintf("no driver called %q was found", e.Name)
}

// Is lets errors.Is match ErrDriverNotFound.
func (e *DriverNotFoundError) Is(target error) bool {
	return target == ErrDriverNotFound
}
