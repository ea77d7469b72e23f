package browser

import (
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Method is a primitive interaction performed on a located element.
type Method string

const (
	MethodClick  Method = "click"
	MethodFill   Method = "fill"
	MethodPress  Method = "press"
	MethodSelect Method = "select"
)

var methods = []Method{MethodClick, MethodFill, MethodPress, MethodSelect}

// Page is the subset of page automation the driver relies on.
type Page interface {
	Goto(url string, timeout time.Duration) error
	GoBack(timeout time.Duration) error
	Screenshot() ([]byte, error)
	Content() (string, error)
	URL() string
	Perform(selector string, method Method, argument string) error
}

// playwrightPage adapts a playwright.Page to Page.
type playwrightPage struct {
	page    playwright.Page
	timeout time.Duration
}

func (p *playwrightPage) Goto(url string, timeout time.Duration) error {
	waitUntil := playwright.WaitUntilState("domcontentloaded")
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: &waitUntil,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (p *playwrightPage) GoBack(timeout time.Duration) error {
	waitUntil := playwright.WaitUntilState("domcontentloaded")
	_, err := p.page.GoBack(playwright.PageGoBackOptions{
		WaitUntil: &waitUntil,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("navigation back failed: %w", err)
	}
	return nil
}

func (p *playwrightPage) Screenshot() ([]byte, error) {
	img, err := p.page.Screenshot()
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return img, nil
}

func (p *playwrightPage) Content() (string, error) {
	content, err := p.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return content, nil
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) Perform(selector string, method Method, argument string) error {
	loc := p.page.Locator(selector).First()
	timeout := playwright.Float(float64(p.timeout.Milliseconds()))

	var err error
	switch method {
	case MethodClick:
		err = loc.Click(playwright.LocatorClickOptions{Timeout: timeout})
	case MethodFill:
		err = loc.Fill(argument, playwright.LocatorFillOptions{Timeout: timeout})
	case MethodPress:
		err = loc.Press(argument, playwright.LocatorPressOptions{Timeout: timeout})
	case MethodSelect:
		_, err = loc.SelectOption(playwright.SelectOptionValues{Labels: &[]string{argument}},
			playwright.LocatorSelectOptionOptions{Timeout: timeout})
	default:
		return fmt.Errorf("unsupported method %q", method)
	}
	if err != nil {
		return fmt.Errorf("%s on %s failed: %w", method, selector, err)
	}
	return nil
}
