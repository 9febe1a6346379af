package dom

import (
	"context"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
)

// Selectors may be CSS or XPath, so every query uses BySearch.

func GetFullHTMLAction(res *string) chromedp.Action {
	return chromedp.Evaluate(`document.documentElement.outerHTML`, res)
}

func ClickAction(selector string) chromedp.Action {
	return chromedp.Tasks{
		chromedp.WaitVisible(selector, chromedp.BySearch),
		chromedp.Click(selector, chromedp.BySearch),
	}
}

// TypeAction focuses the element and types text into it, which is what rich
// text editors listen for.
func TypeAction(selector string, text string) chromedp.Action {
	return chromedp.Tasks{
		chromedp.WaitVisible(selector, chromedp.BySearch),
		chromedp.Focus(selector, chromedp.BySearch),
		chromedp.SendKeys(selector, text, chromedp.BySearch),
	}
}

// SetValueAction replaces an input's value by clearing it and typing, so
// framework-bound fields see key events.
func SetValueAction(selector string, value string) chromedp.Action {
	return chromedp.Tasks{
		chromedp.WaitVisible(selector, chromedp.BySearch),
		chromedp.Clear(selector, chromedp.BySearch),
		chromedp.SendKeys(selector, value, chromedp.BySearch),
	}
}

// UploadAction sets files on an <input type=file>. The input is usually
// hidden, so only readiness is awaited.
func UploadAction(selector string, files []string) chromedp.Action {
	return chromedp.Tasks{
		chromedp.WaitReady(selector, chromedp.BySearch),
		chromedp.SetUploadFiles(selector, files, chromedp.BySearch),
	}
}

func TextAction(selector string, res *string) chromedp.Action {
	return chromedp.Text(selector, res, chromedp.BySearch)
}

func AttributeAction(selector, name string, value *string, ok *bool) chromedp.Action {
	return chromedp.AttributeValue(selector, name, value, ok, chromedp.BySearch)
}

func NavigateAction(url string) chromedp.Action {
	return chromedp.Navigate(url)
}

// IsElementPresentAction checks if an element exists without waiting for
// it to appear.
func IsElementPresentAction(selector string, isPresent *bool) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var nodes []*cdp.Node
		err := chromedp.Nodes(selector, &nodes, chromedp.BySearch, chromedp.AtLeast(0)).Do(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			*isPresent = false
			return nil
		}
		*isPresent = len(nodes) > 0
		return nil
	})
}
